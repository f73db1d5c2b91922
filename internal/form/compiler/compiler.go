package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	ustrings "github.com/identi-digital/identi-modules-sub000/internal/util/strings"
)

// Well-known input roles filled from attribute metadata
const (
	inputTitle       = "title"
	inputDescription = "description"
	inputEntityType  = "entity_type"
	inputFilter      = "filter"
	inputIsMultiple  = "is_multiple"
	inputDisplayName = "display_name"

	instructionKindGather = "gather"
)

// Describer produces the entity description a schema is compiled from
type Describer interface {
	Describe(ctx context.Context, entity string) (*introspect.EntityDescription, error)
}

// FieldOverride customizes one compiled field. In replace mode the list of
// overrides is the instruction set.
type FieldOverride struct {
	Name         string                  `json:"name"`
	ToolID       string                  `json:"toolId,omitempty"`
	Title        string                  `json:"title,omitempty"`
	Description  string                  `json:"description,omitempty"`
	SemanticType introspect.SemanticType `json:"semanticType,omitempty"`
	Inputs       map[string]interface{}  `json:"inputs,omitempty"`
	GroupIndex   *int                    `json:"groupIndex,omitempty"`
	Skip         bool                    `json:"skip,omitempty"`
}

// EntityOverride fills entity-reference inputs the relation metadata leaves open
type EntityOverride struct {
	EntityType  string `json:"entityType,omitempty"`
	Filter      string `json:"filter,omitempty"`
	IsMultiple  *bool  `json:"isMultiple,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Request describes one compilation
type Request struct {
	FormID    string                    `json:"formId"`
	Entity    string                    `json:"entity"`
	Overrides []FieldOverride           `json:"overrides,omitempty"`
	EntityMap map[string]EntityOverride `json:"entityMap,omitempty"`
	Mode      Mode                      `json:"mode,omitempty"`
}

// Gap records an attribute that was skipped because no template serves it
type Gap struct {
	Name         string                  `json:"name"`
	SemanticType introspect.SemanticType `json:"semanticType"`
	Reason       string                  `json:"reason"`
}

// Result is a compiled schema plus the attributes it could not cover
type Result struct {
	Schema      *Schema                       `json:"schema"`
	Gaps        []Gap                         `json:"gaps,omitempty"`
	Description *introspect.EntityDescription `json:"-"`
}

// Option configures a Compiler
type Option func(*Compiler)

// WithIDGenerator replaces uuid-based instruction and schema ids
func WithIDGenerator(fn func() string) Option {
	return func(c *Compiler) { c.newID = fn }
}

// WithClock overrides the schema creation timestamp source
func WithClock(fn func() time.Time) Option {
	return func(c *Compiler) { c.now = fn }
}

// Compiler builds schemas against one loaded tool catalog
type Compiler struct {
	describer Describer
	catalog   *tools.Catalog
	matcher   *tools.Matcher
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// New creates a compiler. The catalog is loaded by the caller once per request.
func New(catalog *tools.Catalog, describer Describer, logger *zap.Logger, opts ...Option) *Compiler {
	c := &Compiler{
		describer: describer,
		catalog:   catalog,
		matcher:   tools.NewMatcher(catalog),
		logger:    logging.OrNop(logger),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile describes the requested entity and compiles it
func (c *Compiler) Compile(ctx context.Context, req Request) (*Result, error) {
	desc, err := c.describer.Describe(ctx, req.Entity)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", req.Entity, err)
	}
	return c.CompileDescription(ctx, desc, req)
}

// item is one attribute scheduled for compilation
type item struct {
	attr     introspect.AttributeDescriptor
	override *FieldOverride
	bound    bool
}

// CompileDescription compiles an already introspected entity
func (c *Compiler) CompileDescription(ctx context.Context, desc *introspect.EntityDescription, req Request) (*Result, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	items, skipped := plan(desc, req.Overrides, mode)

	result := &Result{Description: desc}
	instructions := make([]Instruction, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tpl, err := c.resolveTemplate(it)
		if err != nil {
			gap := Gap{Name: it.attr.Name, SemanticType: it.attr.SemanticType, Reason: err.Error()}
			result.Gaps = append(result.Gaps, gap)
			if it.bound {
				skipped = append(skipped, it.attr.Name)
			}
			c.logger.Warn("skipping attribute without template",
				zap.String("entity", req.Entity),
				zap.String("attribute", it.attr.Name),
				zap.String("semantic_type", string(it.attr.SemanticType)),
				zap.Error(err),
			)
			continue
		}
		instructions = append(instructions, c.buildInstruction(tpl, it, req.EntityMap[it.attr.Name]))
	}

	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: entity %s", ErrEmptySchema, req.Entity)
	}
	wireTransitions(instructions)

	entityID := req.Entity
	if entityID == "" {
		entityID = desc.Entity
	}
	result.Schema = &Schema{
		ID:                 c.newID(),
		FormID:             req.FormID,
		EntityID:           entityID,
		Mode:               mode,
		Instructions:       instructions,
		StartInstructionID: instructions[0].ID,
		Skipped:            skipped,
		CreatedAt:          c.now().UTC(),
	}

	c.logger.Debug("schema compiled",
		zap.String("form_id", req.FormID),
		zap.String("entity", entityID),
		zap.String("mode", string(mode)),
		zap.Int("instructions", len(instructions)),
		zap.Int("gaps", len(result.Gaps)),
	)
	return result, nil
}

// plan lists the attributes to compile in instruction order, and the entity
// attributes a merge deliberately leaves out.
func plan(desc *introspect.EntityDescription, overrides []FieldOverride, mode Mode) ([]item, []string) {
	live := make(map[string]introspect.AttributeDescriptor)
	var order []string
	for _, attr := range desc.Attributes {
		live[attr.Name] = attr
		order = append(order, attr.Name)
	}
	for _, rel := range desc.Relations {
		if _, dup := live[rel.Name]; dup {
			continue
		}
		live[rel.Name] = rel.Attribute()
		order = append(order, rel.Name)
	}

	var items []item
	var skipped []string
	switch mode {
	case ModeReplace:
		seen := make(map[string]bool)
		for i := range overrides {
			ov := &overrides[i]
			if ov.Skip || seen[ov.Name] {
				continue
			}
			seen[ov.Name] = true
			attr, bound := live[ov.Name]
			if !bound {
				attr = unboundAttribute(ov)
			}
			items = append(items, item{attr: attr, override: ov, bound: bound})
		}

	default:
		byName := make(map[string]*FieldOverride, len(overrides))
		for i := range overrides {
			byName[overrides[i].Name] = &overrides[i]
		}
		for _, name := range order {
			ov := byName[name]
			if ov != nil && ov.Skip {
				skipped = append(skipped, name)
				continue
			}
			items = append(items, item{attr: live[name], override: ov, bound: true})
		}
		appended := make(map[string]bool)
		for i := range overrides {
			ov := &overrides[i]
			if _, ok := live[ov.Name]; ok || ov.Skip || appended[ov.Name] {
				continue
			}
			appended[ov.Name] = true
			items = append(items, item{attr: unboundAttribute(ov), override: ov})
		}
	}
	return items, skipped
}

func unboundAttribute(ov *FieldOverride) introspect.AttributeDescriptor {
	semantic := ov.SemanticType
	if semantic == "" {
		semantic = introspect.TextShort
	}
	return introspect.AttributeDescriptor{
		Name:         ov.Name,
		SemanticType: semantic,
		Nullable:     true,
		EnumValues:   []string{},
	}
}

func (c *Compiler) resolveTemplate(it item) (tools.ToolTemplate, error) {
	if it.override != nil && it.override.ToolID != "" {
		if tpl, ok := c.catalog.ByID(it.override.ToolID); ok {
			return tpl, nil
		}
		c.logger.Warn("override references unknown tool, falling back to matcher",
			zap.String("attribute", it.attr.Name),
			zap.String("tool_id", it.override.ToolID),
		)
	}
	return c.matcher.Match(string(it.attr.SemanticType))
}

func (c *Compiler) buildInstruction(tpl tools.ToolTemplate, it item, entityOverride EntityOverride) Instruction {
	ins := Instruction{
		ID: c.newID(),
		Tool: ToolRef{
			ID:     tpl.ID,
			Name:   tpl.Name,
			Action: append([]byte(nil), tpl.Action...),
		},
		Inputs:         cloneFields(tpl.InputFields),
		AdvancedInputs: cloneFields(tpl.AdvancedFields),
		Gather: GatherDescriptor{
			Name:          it.attr.Name,
			SemanticType:  it.attr.SemanticType,
			Nullable:      it.attr.Nullable,
			Unique:        it.attr.Unique,
			IsForeignKey:  it.attr.IsForeignKey,
			ForeignEntity: it.attr.ForeignEntity,
			EnumValues:    append([]string{}, it.attr.EnumValues...),
			IsManyToMany:  it.attr.IsManyToMany,
			Bound:         it.bound,
		},
		Transitions: []Transition{},
		Kind:        instructionKindGather,
	}
	if ins.Inputs == nil {
		ins.Inputs = []tools.InputField{}
	}

	ov := it.override
	if ov == nil {
		ov = &FieldOverride{}
	}
	if ov.GroupIndex != nil {
		ins.GroupIndex = *ov.GroupIndex
	}

	title := ov.Title
	if title == "" {
		title = ustrings.Humanize(it.attr.Name)
	}
	setInput(ins.Inputs, inputTitle, title)
	if ov.Description != "" {
		setInput(ins.Inputs, inputDescription, ov.Description)
	}

	if isEntityTemplate(tpl) {
		fillEntityInputs(ins.Inputs, it.attr, entityOverride)
	}

	if len(it.attr.EnumValues) > 0 {
		for i := range ins.Inputs {
			if ins.Inputs[i].IsIncreasing {
				values := make([]interface{}, len(it.attr.EnumValues))
				for j, v := range it.attr.EnumValues {
					values[j] = v
				}
				ins.Inputs[i].Value = values
				break
			}
		}
	}

	for name, value := range ov.Inputs {
		if !setInput(ins.Inputs, name, value) {
			setInput(ins.AdvancedInputs, name, value)
		}
	}
	return ins
}

// fillEntityInputs populates the entity-reference inputs from relation
// metadata, falling back to the per-field override.
func fillEntityInputs(inputs []tools.InputField, attr introspect.AttributeDescriptor, override EntityOverride) {
	entityType := attr.ForeignEntity
	if entityType == "" {
		entityType = override.EntityType
	}
	if entityType != "" {
		setInput(inputs, inputEntityType, entityType)
	}

	switch {
	case attr.IsForeignKey:
		setInput(inputs, inputIsMultiple, attr.IsManyToMany)
	case override.IsMultiple != nil:
		setInput(inputs, inputIsMultiple, *override.IsMultiple)
	}

	if override.Filter != "" {
		setInput(inputs, inputFilter, override.Filter)
	}
	if override.DisplayName != "" {
		setInput(inputs, inputDisplayName, override.DisplayName)
	}
}

func isEntityTemplate(tpl tools.ToolTemplate) bool {
	switch tpl.GatherConfig.SemanticType {
	case string(introspect.Entity), "entities":
		return true
	}
	return false
}

// wireTransitions links each instruction to the next. Condition inputs
// branch on their options; all branches converge on the next instruction.
func wireTransitions(instructions []Instruction) {
	for i := range instructions {
		if i == len(instructions)-1 {
			instructions[i].Transitions = []Transition{}
			continue
		}
		next := instructions[i+1].ID

		var transitions []Transition
		if cond, ok := conditionInput(instructions[i].Inputs); ok {
			options := optionValues(cond)
			if len(options) > 0 {
				for _, opt := range options {
					transitions = append(transitions, Transition{Kind: TransitionOption, Value: opt, Next: next})
				}
			} else {
				transitions = append(transitions, Transition{Kind: TransitionAny, Next: next})
			}
		}
		if len(transitions) == 0 {
			transitions = []Transition{{Kind: TransitionDefault, Next: next}}
		}
		instructions[i].Transitions = transitions
	}
}

func conditionInput(inputs []tools.InputField) (tools.InputField, bool) {
	for _, in := range inputs {
		if in.IsCondition {
			return in, true
		}
	}
	return tools.InputField{}, false
}

// optionValues lists the options of an options-typed condition input
func optionValues(in tools.InputField) []string {
	if in.TypeInput != "options" && !in.IsIncreasing {
		return nil
	}
	source := in.Value
	if source == nil {
		source = in.Default
	}
	list, ok := source.([]interface{})
	if !ok {
		if strs, ok := source.([]string); ok {
			return append([]string(nil), strs...)
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		switch val := v.(type) {
		case map[string]interface{}:
			if inner, ok := val["value"]; ok {
				out = append(out, fmt.Sprint(inner))
			}
		case nil:
		default:
			out = append(out, fmt.Sprint(val))
		}
	}
	return out
}

func setInput(inputs []tools.InputField, name string, value interface{}) bool {
	for i := range inputs {
		if inputs[i].Name == name {
			inputs[i].Value = value
			return true
		}
	}
	return false
}

func cloneFields(fields []tools.InputField) []tools.InputField {
	if fields == nil {
		return nil
	}
	out := make([]tools.InputField, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}
