package drift

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
)

// SchemaStore persists compiled schemas as append-only versions
type SchemaStore interface {
	// Latest returns the newest schema of a form, or nil when none exists
	Latest(ctx context.Context, formID string) (*compiler.Schema, error)
	// Append stores a new version and returns it with its version number set
	Append(ctx context.Context, schema *compiler.Schema) (*compiler.Schema, error)
}

// Compiler compiles an introspected entity
type Compiler interface {
	CompileDescription(ctx context.Context, desc *introspect.EntityDescription, req compiler.Request) (*compiler.Result, error)
}

// Outcome is the schema a form should use now
type Outcome struct {
	Schema     *compiler.Schema
	Gaps       []compiler.Gap
	Recompiled bool
	Digest     string
}

// Detector recompiles a form only when its entity drifted
type Detector struct {
	describer compiler.Describer
	compiler  Compiler
	store     SchemaStore
	logger    *zap.Logger
}

// NewDetector creates a detector
func NewDetector(describer compiler.Describer, c Compiler, store SchemaStore, logger *zap.Logger) *Detector {
	return &Detector{
		describer: describer,
		compiler:  c,
		store:     store,
		logger:    logging.OrNop(logger),
	}
}

// Ensure returns the latest schema when it was compiled from the same
// request and the live entity still matches it, and otherwise compiles and
// appends a new version. force skips the comparison.
func (d *Detector) Ensure(ctx context.Context, req compiler.Request, force bool) (*Outcome, error) {
	mode, err := compiler.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode
	intent, err := RequestDigest(req)
	if err != nil {
		return nil, err
	}

	desc, err := d.describer.Describe(ctx, req.Entity)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", req.Entity, err)
	}

	if !force {
		latest, err := d.store.Latest(ctx, req.FormID)
		if err != nil {
			return nil, fmt.Errorf("failed to load latest schema: %w", err)
		}
		if latest != nil && latest.EntityID == req.Entity {
			if out, ok := d.upToDate(latest, desc, intent); ok {
				return out, nil
			}
		}
	}

	result, err := d.compiler.CompileDescription(ctx, desc, req)
	if err != nil {
		return nil, err
	}
	result.Schema.RequestDigest = intent
	saved, err := d.store.Append(ctx, result.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to store schema: %w", err)
	}

	return &Outcome{
		Schema:     saved,
		Gaps:       result.Gaps,
		Recompiled: true,
		Digest:     FromSchema(saved).Digest(),
	}, nil
}

// upToDate compares latest with the live entity. The stored mode and
// skipped fields only apply when latest came from the same request.
func (d *Detector) upToDate(latest *compiler.Schema, desc *introspect.EntityDescription, intent string) (*Outcome, bool) {
	if latest.RequestDigest != intent {
		d.logger.Info("compile request changed, recompiling",
			zap.String("form_id", latest.FormID),
			zap.String("entity", latest.EntityID),
			zap.String("stored_mode", string(latest.Mode)),
		)
		return nil, false
	}

	stored := FromSchema(latest)
	current := FromAttributes(desc.Attributes).Without(latest.Skipped)
	if latest.Mode == compiler.ModeReplace {
		current = FromAttributes(desc.Attributes).Restrict(stored.Names())
	}
	if !current.Equal(stored) {
		d.logger.Info("entity drifted, recompiling",
			zap.String("form_id", latest.FormID),
			zap.String("entity", latest.EntityID),
			zap.String("stored_digest", stored.Digest()),
			zap.String("live_digest", current.Digest()),
		)
		return nil, false
	}

	d.logger.Debug("schema up to date",
		zap.String("form_id", latest.FormID),
		zap.Int("version", latest.Version),
	)
	return &Outcome{Schema: latest, Digest: stored.Digest()}, true
}
