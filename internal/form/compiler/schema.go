// Package compiler turns an entity description into a linear workflow of
// instructions, each bound to a catalog template and one entity attribute.
package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
)

var (
	// ErrEmptySchema is returned when no attribute could be compiled
	ErrEmptySchema = errors.New("schema has no instructions")
	// ErrInvalidSchema is returned when the instruction graph is malformed
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrInvalidMode is returned for modes other than replace and merge
	ErrInvalidMode = errors.New("invalid compilation mode")
	// ErrNoTemplate is the gap reason when no template serves an attribute
	ErrNoTemplate = tools.ErrNoTemplate
)

// Mode selects how overrides combine with the entity's attributes
type Mode string

const (
	// ModeReplace compiles exactly the overrides, in override order
	ModeReplace Mode = "replace"
	// ModeMerge compiles every entity attribute, applying overrides in place
	ModeMerge Mode = "merge"
)

// ParseMode validates a mode string. Empty means merge.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// TransitionKind tells how a transition is selected at runtime
type TransitionKind string

const (
	TransitionDefault TransitionKind = "default"
	TransitionOption  TransitionKind = "option"
	TransitionAny     TransitionKind = "any"
)

// Transition points to the next instruction. Option transitions fire when
// the answer equals Value.
type Transition struct {
	Kind  TransitionKind `json:"kind"`
	Value string         `json:"value,omitempty"`
	Next  string         `json:"next"`
}

// ToolRef is the template identity an instruction inherits
type ToolRef struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Action json.RawMessage `json:"action,omitempty"`
}

// GatherDescriptor binds an instruction to one entity attribute. Bound is
// false for override-only fields with no backing column.
type GatherDescriptor struct {
	Name          string                  `json:"name"`
	SemanticType  introspect.SemanticType `json:"semanticType"`
	Nullable      bool                    `json:"nullable"`
	Unique        bool                    `json:"unique"`
	IsForeignKey  bool                    `json:"isForeignKey"`
	ForeignEntity string                  `json:"foreignEntity,omitempty"`
	EnumValues    []string                `json:"enumValues"`
	IsManyToMany  bool                    `json:"isManyToMany"`
	Bound         bool                    `json:"bound"`
}

// Instruction is one compiled step
type Instruction struct {
	ID             string             `json:"id"`
	Tool           ToolRef            `json:"tool"`
	Inputs         []tools.InputField `json:"inputs"`
	AdvancedInputs []tools.InputField `json:"advancedInputs,omitempty"`
	Gather         GatherDescriptor   `json:"gather"`
	Transitions    []Transition       `json:"transitions"`
	GroupIndex     int                `json:"groupIndex"`
	Kind           string             `json:"kind"`
}

// Schema is one compiled, immutable version of a form
type Schema struct {
	ID                 string        `json:"id"`
	FormID             string        `json:"formId"`
	EntityID           string        `json:"entityId"`
	Mode               Mode          `json:"mode"`
	Version            int           `json:"version"`
	Instructions       []Instruction `json:"instructions"`
	StartInstructionID string        `json:"startInstructionId"`
	Skipped            []string      `json:"skipped,omitempty"`
	// RequestDigest identifies the mode and overrides the schema was compiled from
	RequestDigest string    `json:"requestDigest,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Instruction returns the instruction with the given id
func (s *Schema) Instruction(id string) (*Instruction, bool) {
	for i := range s.Instructions {
		if s.Instructions[i].ID == id {
			return &s.Instructions[i], true
		}
	}
	return nil, false
}

// Validate checks that every instruction is reachable from the start
// instruction, that every transition targets a known instruction, and that
// no walk can loop.
func (s *Schema) Validate() error {
	if len(s.Instructions) == 0 {
		return ErrEmptySchema
	}

	byID := make(map[string]*Instruction, len(s.Instructions))
	for i := range s.Instructions {
		ins := &s.Instructions[i]
		if ins.ID == "" {
			return fmt.Errorf("%w: instruction %d has no id", ErrInvalidSchema, i)
		}
		if _, dup := byID[ins.ID]; dup {
			return fmt.Errorf("%w: duplicate instruction id %s", ErrInvalidSchema, ins.ID)
		}
		byID[ins.ID] = ins
	}
	if _, ok := byID[s.StartInstructionID]; !ok {
		return fmt.Errorf("%w: start instruction %q not found", ErrInvalidSchema, s.StartInstructionID)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(byID))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: cycle through %s", ErrInvalidSchema, id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, t := range byID[id].Transitions {
			if _, ok := byID[t.Next]; !ok {
				return fmt.Errorf("%w: %s transitions to unknown %q", ErrInvalidSchema, id, t.Next)
			}
			if err := visit(t.Next); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	if err := visit(s.StartInstructionID); err != nil {
		return err
	}

	for _, ins := range s.Instructions {
		if state[ins.ID] != done {
			return fmt.Errorf("%w: instruction %s is unreachable", ErrInvalidSchema, ins.ID)
		}
	}
	return nil
}

// Walk returns instruction ids in default-transition order from the start
func (s *Schema) Walk() []string {
	var order []string
	seen := make(map[string]bool)
	for id := s.StartInstructionID; id != "" && !seen[id]; {
		seen[id] = true
		order = append(order, id)
		ins, ok := s.Instruction(id)
		if !ok || len(ins.Transitions) == 0 {
			break
		}
		id = ins.Transitions[0].Next
	}
	return order
}

// ParseSchema decodes a stored schema document, requiring the
// instructions and startInstructionId keys.
func ParseSchema(data []byte) (*Schema, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	for _, required := range []string{"instructions", "startInstructionId"} {
		if _, ok := keys[required]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidSchema, required)
		}
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &s, nil
}
