package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/identi-digital/identi-modules-sub000/internal/form/capture"
	"github.com/identi-digital/identi-modules-sub000/internal/orm/crud"
)

// Status is the materialization state of a submission
type Status string

const (
	StatusPending      Status = "pending"
	StatusMaterialized Status = "materialized"
	StatusFailed       Status = "failed"
)

// Failure is the error payload recorded on a failed submission
type Failure struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// Submission is one set of answers against a schema version
type Submission struct {
	ID        string               `json:"id"`
	FormID    string               `json:"formId"`
	SchemaID  string               `json:"schemaId"`
	Entity    string               `json:"entity"`
	Detail    []capture.DetailItem `json:"detail"`
	Status    Status               `json:"status"`
	EntityRef string               `json:"entityRef,omitempty"`
	Error     *Failure             `json:"error,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

const submissionsTable = "form_submissions"

// SubmissionStore persists submissions. Detail items are stored exactly as
// submitted.
type SubmissionStore struct {
	db    crud.Querier
	table *crud.Table
}

// NewSubmissionStore creates a submission store
func NewSubmissionStore(db crud.Querier, opts ...crud.Option) *SubmissionStore {
	opts = append([]crud.Option{crud.WithTimestamps()}, opts...)
	return &SubmissionStore{db: db, table: crud.NewTable(submissionsTable, opts...)}
}

// WithQuerier returns a store bound to q, typically a transaction
func (s *SubmissionStore) WithQuerier(q crud.Querier) *SubmissionStore {
	return &SubmissionStore{db: q, table: s.table}
}

// Create stores a pending submission and returns its id
func (s *SubmissionStore) Create(ctx context.Context, sub *Submission) (string, error) {
	detail, err := json.Marshal(sub.Detail)
	if err != nil {
		return "", fmt.Errorf("failed to encode detail: %w", err)
	}
	record := map[string]interface{}{
		"form_id":   sub.FormID,
		"schema_id": sub.SchemaID,
		"entity_id": sub.Entity,
		"detail":    string(detail),
		"status":    string(StatusPending),
	}
	if sub.ID != "" {
		record["id"] = sub.ID
	}
	return s.table.Insert(ctx, s.db, record)
}

// MarkMaterialized records the back-reference to the written entity row
func (s *SubmissionStore) MarkMaterialized(ctx context.Context, id, entityRef string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":     string(StatusMaterialized),
		"entity_ref": entityRef,
		"error":      nil,
	})
}

// MarkFailed records a materialization failure
func (s *SubmissionStore) MarkFailed(ctx context.Context, id string, failure Failure) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("failed to encode failure: %w", err)
	}
	return s.update(ctx, id, map[string]interface{}{
		"status": string(StatusFailed),
		"error":  string(payload),
	})
}

func (s *SubmissionStore) update(ctx context.Context, id string, data map[string]interface{}) error {
	err := s.table.Update(ctx, s.db, id, data)
	if crud.IsNotFound(err) {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return err
}

const submissionByIDQuery = `SELECT id, form_id, schema_id, entity_id, detail, status, entity_ref, error, created_at, updated_at
FROM form_submissions WHERE id = $1`

// Get loads a submission
func (s *SubmissionStore) Get(ctx context.Context, id string) (*Submission, error) {
	var (
		sub       Submission
		detail    []byte
		status    string
		entityRef sql.NullString
		failure   []byte
	)
	err := s.db.QueryRowContext(ctx, submissionByIDQuery, id).Scan(
		&sub.ID, &sub.FormID, &sub.SchemaID, &sub.Entity, &detail, &status,
		&entityRef, &failure, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission %s: %w", id, crud.ConvertDBError(err))
	}

	sub.Status = Status(status)
	sub.EntityRef = entityRef.String
	if sub.Detail, err = capture.ParseDetail(detail); err != nil {
		return nil, err
	}
	if len(failure) > 0 {
		var f Failure
		if err := json.Unmarshal(failure, &f); err != nil {
			return nil, fmt.Errorf("invalid failure payload on submission %s: %w", id, err)
		}
		sub.Error = &f
	}
	return &sub, nil
}
