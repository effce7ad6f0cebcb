package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/ledgerlab/service/db"
	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/brojonat/ledgerlab/service/temporal"
	"github.com/jackc/pgx/v5"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 64      // public keys are at most 44 chars
	maxSignatureLength = 100     // signatures are at most 88 chars
	maxMemoLength      = 566     // memo program limit for a single-signer transaction
	maxWorkflowIDLen   = 200
	defaultListLimit   = 50
	maxListLimit       = 1000
)

var (
	validBase58Regex     = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	validWorkflowIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
)

// SubmissionStore reads the submission journal.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, signature string) (*db.Submission, error)
	ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error)
}

// handleListSubmissions returns a handler that lists journaled submissions.
// Query parameters network, kind and status filter; limit caps the result.
func handleListSubmissions(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "submission journal is not configured", http.StatusServiceUnavailable)
			return
		}

		q := r.URL.Query()
		params := db.ListSubmissionsParams{
			Network: q.Get("network"),
			Kind:    q.Get("kind"),
			Status:  q.Get("status"),
			Limit:   defaultListLimit,
		}
		if err := validateStatus(params.Status); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 || limit > maxListLimit {
				writeError(w, fmt.Sprintf("invalid limit: must be between 1 and %d", maxListLimit), http.StatusBadRequest)
				return
			}
			params.Limit = int32(limit)
		}

		subs, err := store.ListSubmissions(r.Context(), params)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list submissions", "error", err)
			writeError(w, "failed to list submissions", http.StatusInternalServerError)
			return
		}
		if subs == nil {
			subs = []*db.Submission{}
		}

		writeJSON(w, map[string]interface{}{
			"submissions": subs,
			"count":       len(subs),
		}, http.StatusOK)
	})
}

// handleGetSubmission returns a handler that fetches one submission by signature.
func handleGetSubmission(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "submission journal is not configured", http.StatusServiceUnavailable)
			return
		}

		signature := r.PathValue("signature")
		if err := validateBase58("signature", signature, maxSignatureLength); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := store.GetSubmission(r.Context(), signature)
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, "submission not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get submission",
				"signature", signature,
				"error", err,
			)
			writeError(w, "failed to get submission", http.StatusInternalServerError)
			return
		}

		writeJSON(w, sub, http.StatusOK)
	})
}

type startTransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount,omitempty"`   // SOL, e.g. "0.5"
	Lamports  uint64 `json:"lamports,omitempty"` // alternative to amount
	Memo      string `json:"memo,omitempty"`
	Level     string `json:"level,omitempty"`
	ID        string `json:"id,omitempty"` // idempotency key; becomes the workflow ID
}

// handleStartTransfer returns a handler that starts a transfer workflow and
// answers 202 with its IDs. A repeated id answers 200 with the earlier run.
// The outcome is read from the status endpoint.
func handleStartTransfer(transfers Transfers, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if transfers == nil {
			writeError(w, "transfer workflows are not configured", http.StatusServiceUnavailable)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		input, err := transferInput(req)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		id := req.ID
		if id != "" {
			if err := validateWorkflowID(id); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			id = temporal.TransferWorkflowID(id)
		}

		started, err := transfers.Start(r.Context(), id, input)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start transfer",
				"recipient", input.Recipient,
				"lamports", input.Lamports,
				"error", err,
			)
			writeError(w, "failed to start transfer workflow", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "transfer started",
			"workflow_id", started.WorkflowID,
			"existing", started.Existing,
			"recipient", input.Recipient,
			"lamports", input.Lamports,
		)
		if started.Existing {
			writeJSON(w, started, http.StatusOK)
			return
		}
		writeJSON(w, started, http.StatusAccepted)
	})
}

// handleTransferStatus returns a handler that reports a transfer workflow's state.
func handleTransferStatus(transfers Transfers, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if transfers == nil {
			writeError(w, "transfer workflows are not configured", http.StatusServiceUnavailable)
			return
		}

		id := r.PathValue("workflow_id")
		if err := validateWorkflowID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		status, err := transfers.Status(r.Context(), id)
		if errors.Is(err, ErrTransferNotFound) {
			writeError(w, "transfer workflow not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get transfer status",
				"workflow_id", id,
				"error", err,
			)
			writeError(w, "failed to get transfer status", http.StatusInternalServerError)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// transferInput validates a transfer request and converts it to workflow input.
func transferInput(req startTransferRequest) (temporal.TransferInput, error) {
	var input temporal.TransferInput

	if err := validateBase58("recipient", req.Recipient, maxAddressLength); err != nil {
		return input, err
	}
	recipient, err := solana.ParseAddress(req.Recipient)
	if err != nil {
		return input, errorf("invalid recipient: %v", err)
	}

	switch {
	case req.Amount != "" && req.Lamports != 0:
		return input, errorf("set either amount or lamports, not both")
	case req.Amount != "":
		lamports, err := solana.ParseSOL(req.Amount)
		if err != nil {
			return input, errorf("invalid amount: %v", err)
		}
		input.Lamports = lamports
	default:
		input.Lamports = req.Lamports
	}
	if input.Lamports == 0 {
		return input, errorf("amount must be positive")
	}

	if len(req.Memo) > maxMemoLength {
		return input, errorf("memo too long: maximum length is %d bytes", maxMemoLength)
	}

	level := solana.LevelConfirmed
	if req.Level != "" {
		level, err = solana.ParseConfirmationLevel(req.Level)
		if err != nil {
			return input, errorf("invalid level: %v", err)
		}
	}

	input.Recipient = recipient.String()
	input.Memo = req.Memo
	input.Level = level.String()
	return input, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateBase58 checks a base58 path or body value before it reaches the
// ledger or the database.
func validateBase58(field, value string, maxLen int) error {
	if value == "" {
		return errorf("%s is required", field)
	}
	if len(value) > maxLen {
		return errorf("%s too long: maximum length is %d characters", field, maxLen)
	}
	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}
	if !validBase58Regex.MatchString(value) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}
	return nil
}

func validateWorkflowID(id string) error {
	if id == "" {
		return errorf("workflow id is required")
	}
	if len(id) > maxWorkflowIDLen {
		return errorf("workflow id too long: maximum length is %d characters", maxWorkflowIDLen)
	}
	if !validWorkflowIDRegex.MatchString(id) {
		return errorf("invalid workflow id: use letters, digits and _ . : -")
	}
	return nil
}

func validateStatus(status string) error {
	switch status {
	case "", db.StatusProcessed, db.StatusConfirmed, db.StatusFinalized, db.StatusFailed, db.StatusUnknown:
		return nil
	}
	return errorf("invalid status: must be one of processed, confirmed, finalized, failed, unknown")
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
