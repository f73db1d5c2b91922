package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/capture"
	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/form/drift"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
)

// CompileRequest asks for the current schema of a form. Force recompiles
// even when the entity has not changed.
type CompileRequest struct {
	compiler.Request
	Force bool `json:"force,omitempty"`
}

// CompileResponse carries the schema a form should use, and for each
// instruction the settings a client renders it with.
type CompileResponse struct {
	Schema     *compiler.Schema                  `json:"schema"`
	Settings   map[string]map[string]interface{} `json:"settings"`
	Gaps       []compiler.Gap                    `json:"gaps,omitempty"`
	Recompiled bool                              `json:"recompiled"`
	Signature  string                            `json:"signature"`
}

// CompileSchema returns the latest schema of a form, compiling and storing a
// new version when the entity changed since the last one.
func (s *Service) CompileSchema(ctx context.Context, req CompileRequest) (*CompileResponse, error) {
	req.FormID = strings.TrimSpace(req.FormID)
	req.Entity = strings.TrimSpace(req.Entity)
	if req.FormID == "" {
		return nil, fmt.Errorf("%w: form id is required", ErrInvalidInput)
	}
	if req.Entity == "" {
		return nil, fmt.Errorf("%w: entity is required", ErrInvalidInput)
	}
	if _, err := compiler.ParseMode(string(req.Mode)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	catalog, err := tools.LoadCatalog(ctx, s.logger, s.catalogSource(), s.fallback)
	if err != nil {
		return nil, err
	}

	in := s.introspector(s.db)
	c := compiler.New(catalog, in, s.logger,
		compiler.WithIDGenerator(s.newID),
		compiler.WithClock(s.now),
	)
	outcome, err := drift.NewDetector(in, c, s.schemas, s.logger).Ensure(ctx, req.Request, req.Force)
	if err != nil {
		if errors.Is(err, introspect.ErrUnknownEntity) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	resp := &CompileResponse{
		Schema:     outcome.Schema,
		Settings:   make(map[string]map[string]interface{}, len(outcome.Schema.Instructions)),
		Gaps:       outcome.Gaps,
		Recompiled: outcome.Recompiled,
		Signature:  outcome.Digest,
	}
	for _, ins := range outcome.Schema.Instructions {
		resp.Settings[ins.ID] = capture.SubmittedData(ins.Inputs, ins.AdvancedInputs)
	}

	s.logger.Info("schema resolved",
		zap.String("form_id", req.FormID),
		zap.String("entity", req.Entity),
		zap.Int("version", outcome.Schema.Version),
		zap.Bool("recompiled", outcome.Recompiled),
	)
	return resp, nil
}

// LatestSchema returns the newest stored schema of a form
func (s *Service) LatestSchema(ctx context.Context, formID string) (*compiler.Schema, error) {
	schema, err := s.schemas.Latest(ctx, formID)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, fmt.Errorf("form %s has no schema: %w", formID, ErrNotFound)
	}
	return schema, nil
}
