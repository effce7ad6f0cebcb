package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Submission statuses recorded in the journal.
const (
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"  // rejected by the ledger or never sent
	StatusUnknown   = "unknown" // sent, confirmation not observed
)

// Store is the submission journal. Callers record each submission after
// Submit returns; the submission workflow itself never writes here.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Submission is one journaled submission attempt.
type Submission struct {
	ID        uuid.UUID `json:"id"`
	Signature string    `json:"signature,omitempty"` // empty if nothing was sent
	Network   string    `json:"network"`
	Kind      string    `json:"kind"` // "transfer", "create-mint", "mint", ...
	Payer     string    `json:"payer"`
	Level     string    `json:"level"`
	Status    string    `json:"status"`
	ErrorKind *string   `json:"error_kind,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Slot      *int64    `json:"slot,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSubmissionParams contains the parameters for journaling a submission.
type CreateSubmissionParams struct {
	Signature string
	Network   string
	Kind      string
	Payer     string
	Level     string
	Status    string
	ErrorKind *string
	Error     *string
	Slot      *int64
}

// ListSubmissionsParams filters ListSubmissions. Empty fields match everything.
type ListSubmissionsParams struct {
	Network string
	Kind    string
	Status  string
	Limit   int32
}

const submissionColumns = `id, COALESCE(signature, ''), network, kind, payer, level, status, error_kind, error, slot, created_at, updated_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	if err := row.Scan(
		&s.ID,
		&s.Signature,
		&s.Network,
		&s.Kind,
		&s.Payer,
		&s.Level,
		&s.Status,
		&s.ErrorKind,
		&s.Error,
		&s.Slot,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "submissions", time.Since(start).Seconds(), err)
	}
}

// EnsureSchema creates the journal table and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CreateSubmission inserts a new journal entry.
func (s *Store) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*Submission, error) {
	start := time.Now()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO submissions (id, signature, network, kind, payer, level, status, error_kind, error, slot)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+submissionColumns,
		id,
		params.Signature,
		params.Network,
		params.Kind,
		params.Payer,
		params.Level,
		params.Status,
		params.ErrorKind,
		params.Error,
		params.Slot,
	)
	sub, err := scanSubmission(row)
	s.record("create_submission", start, err)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateSubmissionStatus records the resolved status of a submission, e.g.
// after re-querying a signature that timed out. Returns pgx.ErrNoRows if the
// signature is not journaled.
func (s *Store) UpdateSubmissionStatus(ctx context.Context, signature, status string, slot *int64, errMsg *string) (*Submission, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE submissions
		SET status = $2, slot = COALESCE($3, slot), error = COALESCE($4, error), updated_at = NOW()
		WHERE signature = $1
		RETURNING `+submissionColumns,
		signature,
		status,
		slot,
		errMsg,
	)
	sub, err := scanSubmission(row)
	s.record("update_submission_status", start, err)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubmission retrieves a submission by signature.
// Returns pgx.ErrNoRows if it does not exist.
func (s *Store) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE signature = $1`, signature)
	sub, err := scanSubmission(row)
	s.record("get_submission", start, err)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns the most recent submissions first.
func (s *Store) ListSubmissions(ctx context.Context, params ListSubmissionsParams) ([]*Submission, error) {
	start := time.Now()
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE ($1 = '' OR network = $1)
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4`,
		params.Network,
		params.Kind,
		params.Status,
		limit,
	)
	if err != nil {
		s.record("list_submissions", start, err)
		return nil, err
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			s.record("list_submissions", start, err)
			return nil, err
		}
		out = append(out, sub)
	}
	err = rows.Err()
	s.record("list_submissions", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SubmissionParams builds the journal entry for the outcome of one Submit call.
func SubmissionParams(kind, network, payer string, level solana.ConfirmationLevel, res *solana.SubmissionResult, err error) CreateSubmissionParams {
	params := CreateSubmissionParams{
		Network: network,
		Kind:    kind,
		Payer:   payer,
		Level:   level.String(),
	}

	if err == nil && res != nil {
		slot := int64(res.Slot)
		params.Signature = res.Signature
		params.Status = res.Status
		params.Slot = &slot
		return params
	}

	params.Status = StatusFailed
	if err != nil {
		errKind := string(solana.KindOf(err))
		msg := err.Error()
		params.ErrorKind = &errKind
		params.Error = &msg
		params.Signature = solana.SignatureOf(err)
		if solana.Unresolved(err) {
			params.Status = StatusUnknown
		}
	}
	return params
}

// StatusFromSignature maps a re-queried signature status to a journal status.
func StatusFromSignature(st *solana.SignatureStatus) string {
	switch {
	case st == nil || !st.Found:
		return StatusUnknown
	case st.Err != nil:
		return StatusFailed
	default:
		return st.Status
	}
}
