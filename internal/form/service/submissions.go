package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/capture"
	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/form/materialize"
	"github.com/identi-digital/identi-modules-sub000/internal/form/store"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

const defaultDisplayColumn = "name"

// SubmitRequest is a set of answers against a form. SchemaID defaults to
// the latest version of the form.
type SubmitRequest struct {
	FormID   string               `json:"formId"`
	SchemaID string               `json:"schemaId,omitempty"`
	Detail   []capture.DetailItem `json:"detail"`
}

// SubmitResponse reports the stored submission and its materialization
type SubmitResponse struct {
	SubmissionID string               `json:"submissionId"`
	SchemaID     string               `json:"schemaId"`
	Result       *MaterializeResponse `json:"result"`
}

// MaterializeResponse is the state of a submission after materializing it
type MaterializeResponse struct {
	SubmissionID string               `json:"submissionId"`
	Status       store.Status         `json:"status"`
	EntityRef    string               `json:"entityRef,omitempty"`
	Outcome      *materialize.Outcome `json:"outcome,omitempty"`
	Error        *store.Failure       `json:"error,omitempty"`
}

// Submit stores the answers verbatim and materializes them
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if len(req.Detail) == 0 {
		return nil, fmt.Errorf("%w: detail is required", ErrInvalidInput)
	}

	schema, err := s.submissionSchema(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := s.submissions.Create(ctx, &store.Submission{
		FormID:   schema.FormID,
		SchemaID: schema.ID,
		Entity:   schema.EntityID,
		Detail:   req.Detail,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.Materialize(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{SubmissionID: id, SchemaID: schema.ID, Result: result}, nil
}

func (s *Service) submissionSchema(ctx context.Context, req SubmitRequest) (*compiler.Schema, error) {
	if req.SchemaID != "" {
		schema, err := s.schemas.Get(ctx, req.SchemaID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown schema %s", ErrInvalidInput, req.SchemaID)
		}
		if err != nil {
			return nil, err
		}
		if req.FormID != "" && schema.FormID != req.FormID {
			return nil, fmt.Errorf("%w: schema %s belongs to form %s", ErrInvalidInput, schema.ID, schema.FormID)
		}
		return schema, nil
	}

	if strings.TrimSpace(req.FormID) == "" {
		return nil, fmt.Errorf("%w: form id or schema id is required", ErrInvalidInput)
	}
	schema, err := s.schemas.Latest(ctx, req.FormID)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, fmt.Errorf("%w: form %s has no schema", ErrInvalidInput, req.FormID)
	}
	return schema, nil
}

// Materialize writes a stored submission into its entity inside one
// transaction. A failed write rolls back, is recorded on the submission and
// reported in the response; only storage errors about the submission itself
// are returned.
func (s *Service) Materialize(ctx context.Context, submissionID string) (*MaterializeResponse, error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Entity == "" {
		return nil, fmt.Errorf("%w: submission %s has no entity", ErrInvalidInput, submissionID)
	}

	var (
		outcome *materialize.Outcome
		trace   string
	)
	err = s.tx.WithRetry(ctx, s.retry, func(ctx context.Context, tx *sql.Tx) (err error) {
		trace = ""
		defer func() {
			if p := recover(); p != nil {
				trace = string(debug.Stack())
				err = fmt.Errorf("panic: %v", p)
			}
		}()

		in := s.introspector(tx)
		desc, err := in.Describe(ctx, sub.Entity)
		if err != nil {
			return err
		}
		m := materialize.New(in, s.logger,
			materialize.WithIDGenerator(s.newID),
			materialize.WithClock(s.now),
		)
		outcome, err = m.Materialize(ctx, tx, materialize.TargetFor(desc), sub.Detail, sub.EntityRef)
		if err != nil {
			return err
		}
		return s.submissions.WithQuerier(tx).MarkMaterialized(ctx, sub.ID, outcome.EntityID)
	})

	if err != nil {
		if trace == "" {
			trace = fmt.Sprintf("%+v\n%s", err, debug.Stack())
		}
		failure := store.Failure{Message: err.Error(), Trace: trace}
		s.logger.Error("materialization failed",
			zap.String("submission_id", sub.ID),
			zap.String("entity", sub.Entity),
			zap.Error(err),
		)
		if markErr := s.submissions.MarkFailed(ctx, sub.ID, failure); markErr != nil {
			return nil, fmt.Errorf("failed to record materialization failure: %w", markErr)
		}
		return &MaterializeResponse{
			SubmissionID: sub.ID,
			Status:       store.StatusFailed,
			EntityRef:    sub.EntityRef,
			Error:        &failure,
		}, nil
	}

	return &MaterializeResponse{
		SubmissionID: sub.ID,
		Status:       store.StatusMaterialized,
		EntityRef:    outcome.EntityID,
		Outcome:      outcome,
	}, nil
}

// Submission loads a stored submission. With enrich, entity references
// without a display name are looked up in their target tables. The stored
// detail is never rewritten.
func (s *Service) Submission(ctx context.Context, id string, enrich bool) (*store.Submission, error) {
	sub, err := s.submissions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !enrich {
		return sub, nil
	}

	schema, err := s.schemas.Get(ctx, sub.SchemaID)
	if err != nil {
		s.logger.Warn("schema unavailable, returning submission without display names",
			zap.String("submission_id", id),
			zap.Error(err),
		)
		return sub, nil
	}

	in := s.introspector(s.db)
	for i, item := range sub.Detail {
		kind := item.Value.Kind()
		if kind != capture.KindEntityRef && kind != capture.KindEntityRefList {
			continue
		}
		entity, column := referenceTarget(schema, item.Name)
		if entity == "" {
			continue
		}
		table, err := in.TableFor(ctx, entity)
		if err != nil {
			s.logger.Debug("reference target unresolved",
				zap.String("field", item.Name),
				zap.String("entity", entity),
				zap.Error(err),
			)
			continue
		}
		sub.Detail[i].Value = item.Value.WithDisplayNames(s.displayLookup(ctx, table, column))
		sub.Detail[i].Raw = nil
	}
	return sub, nil
}

func (s *Service) displayLookup(ctx context.Context, table, column string) func(string) (string, bool) {
	rows := crud.NewTable(table)
	return func(id string) (string, bool) {
		v, err := rows.Column(ctx, s.db, id, column)
		if err != nil {
			if !crud.IsNotFound(err) {
				s.logger.Debug("display name lookup failed",
					zap.String("table", table),
					zap.String("id", id),
					zap.Error(err),
				)
			}
			return "", false
		}
		switch name := v.(type) {
		case nil:
			return "", false
		case []byte:
			return string(name), true
		case string:
			return name, true
		default:
			return fmt.Sprint(name), true
		}
	}
}

// referenceTarget finds the entity a gathered field points at, and the
// column naming its rows.
func referenceTarget(schema *compiler.Schema, field string) (string, string) {
	for _, ins := range schema.Instructions {
		if ins.Gather.Name != field {
			continue
		}
		entity := ins.Gather.ForeignEntity
		column := defaultDisplayColumn
		for _, in := range ins.Inputs {
			switch in.Name {
			case "entity_type":
				if s, ok := in.Value.(string); ok && s != "" && entity == "" {
					entity = s
				}
			case "display_name":
				if s, ok := in.Value.(string); ok && s != "" {
					column = s
				}
			}
		}
		return entity, column
	}
	return "", ""
}
