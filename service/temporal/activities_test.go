package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/ledgerlab/service/db"
	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Submitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) CheckFunds(ctx context.Context, owner solanago.PublicKey, lamports uint64, numSigners int) (uint64, error) {
	args := m.Called(ctx, owner, lamports, numSigners)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockSubmitter) Submit(ctx context.Context, req solana.SubmitRequest) (*solana.SubmissionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.SubmissionResult), args.Error(1)
}

func (m *MockSubmitter) Status(ctx context.Context, signature string) (*solana.SignatureStatus, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.SignatureStatus), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Submission), args.Error(1)
}

func (m *MockStore) UpdateSubmissionStatus(ctx context.Context, signature, status string, slot *int64, errMsg *string) (*db.Submission, error) {
	args := m.Called(ctx, signature, status, slot, errMsg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Submission), args.Error(1)
}

type activitiesFixture struct {
	submitter *MockSubmitter
	store     *MockStore
	publisher *natspkg.MockPublisher
	payer     *solana.Identity
	acts      *Activities
}

func newActivitiesFixture(t *testing.T) *activitiesFixture {
	t.Helper()
	payer, err := solana.GenerateIdentity()
	require.NoError(t, err)

	f := &activitiesFixture{
		submitter: &MockSubmitter{},
		store:     &MockStore{},
		publisher: natspkg.NewMockPublisher(),
		payer:     payer,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.acts = NewActivities(f.submitter, payer, "devnet", f.store, f.publisher, nil, logger)
	return f
}

func TestCheckFunds(t *testing.T) {
	ctx := context.Background()

	t.Run("sufficient", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("CheckFunds", mock.Anything, f.payer.PublicKey(), uint64(500), 1).
			Return(uint64(10_000), nil)

		result, err := f.acts.CheckFunds(ctx, CheckFundsInput{Lamports: 500})
		require.NoError(t, err)
		assert.True(t, result.Sufficient)
		assert.Equal(t, uint64(10_000), result.Balance)
		assert.Equal(t, f.payer.String(), result.Payer)
		assert.Equal(t, "devnet", result.Network)
		f.submitter.AssertExpectations(t)
	})

	t.Run("insufficient is a result, not an error", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("CheckFunds", mock.Anything, mock.Anything, uint64(500), 1).
			Return(uint64(100), &solana.Error{Kind: solana.KindInsufficientFunds, Op: "check funds"})

		result, err := f.acts.CheckFunds(ctx, CheckFundsInput{Lamports: 500, Signers: 1})
		require.NoError(t, err)
		assert.False(t, result.Sufficient)
		assert.Equal(t, uint64(100), result.Balance)
		require.NotNil(t, result.Error)
	})

	t.Run("network errors are returned for retry", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("CheckFunds", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(uint64(0), &solana.Error{Kind: solana.KindNetwork, Op: "get balance"})

		result, err := f.acts.CheckFunds(ctx, CheckFundsInput{Lamports: 500})
		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestSubmitTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("success journals and publishes", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(req solana.SubmitRequest) bool {
			return len(req.Instructions) == 2 && req.Payer == f.payer && req.Level == solana.LevelConfirmed
		})).Return(&solana.SubmissionResult{
			Signature: "sig1",
			Level:     solana.LevelConfirmed,
			Status:    "confirmed",
			Slot:      5,
			Network:   "devnet",
			Link:      "https://explorer.solana.com/tx/sig1?cluster=devnet",
		}, nil)
		f.store.On("CreateSubmission", mock.Anything, mock.MatchedBy(func(p db.CreateSubmissionParams) bool {
			return p.Signature == "sig1" && p.Status == db.StatusConfirmed && p.Kind == "transfer"
		})).Return(&db.Submission{Signature: "sig1"}, nil)

		result, err := f.acts.SubmitTransfer(ctx, SubmitTransferInput{
			Recipient: testRecipient,
			Lamports:  1000,
			Memo:      "rent",
		})
		require.NoError(t, err)
		assert.Equal(t, "sig1", result.Signature)
		assert.Equal(t, "confirmed", result.Level)
		assert.Empty(t, result.ErrorKind)

		receipts := f.publisher.Receipts()
		require.Len(t, receipts, 1)
		assert.Equal(t, testRecipient, receipts[0].Recipient)
		assert.Equal(t, uint64(1000), receipts[0].Amount)
		assert.Equal(t, "submissions.devnet.transfer", receipts[0].Subject())

		f.submitter.AssertExpectations(t)
		f.store.AssertExpectations(t)
	})

	t.Run("malformed recipient never reaches the ledger", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.store.On("CreateSubmission", mock.Anything, mock.MatchedBy(func(p db.CreateSubmissionParams) bool {
			return p.Signature == "" && p.Status == db.StatusFailed
		})).Return(&db.Submission{}, nil)

		result, err := f.acts.SubmitTransfer(ctx, SubmitTransferInput{Recipient: "not-an-address", Lamports: 1})
		require.NoError(t, err)
		assert.Equal(t, "ConfigurationError", result.ErrorKind)
		f.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("timeout keeps the signature for resolution", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Submit", mock.Anything, mock.Anything).
			Return(nil, &solana.Error{Kind: solana.KindTimeout, Op: "confirm", Signature: "sig-late"})
		f.store.On("CreateSubmission", mock.Anything, mock.MatchedBy(func(p db.CreateSubmissionParams) bool {
			return p.Signature == "sig-late" && p.Status == db.StatusUnknown
		})).Return(&db.Submission{}, nil)

		result, err := f.acts.SubmitTransfer(ctx, SubmitTransferInput{Recipient: testRecipient, Lamports: 1})
		require.NoError(t, err)
		assert.Equal(t, "sig-late", result.Signature)
		assert.Equal(t, "TimeoutError", result.ErrorKind)
		assert.Contains(t, result.Link, "sig-late")

		receipts := f.publisher.Receipts()
		require.Len(t, receipts, 1)
		assert.Equal(t, "unknown", receipts[0].Status)
	})

	t.Run("journal and receipt failures do not change the outcome", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Submit", mock.Anything, mock.Anything).
			Return(&solana.SubmissionResult{Signature: "sig2", Status: "confirmed"}, nil)
		f.store.On("CreateSubmission", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
		f.publisher.SetPublishError(errors.New("nats down"))

		result, err := f.acts.SubmitTransfer(ctx, SubmitTransferInput{Recipient: testRecipient, Lamports: 1})
		require.NoError(t, err)
		assert.Equal(t, "sig2", result.Signature)
	})

	t.Run("unclassified errors fail the activity", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
		f.store.On("CreateSubmission", mock.Anything, mock.Anything).Return(&db.Submission{}, nil)

		_, err := f.acts.SubmitTransfer(ctx, SubmitTransferInput{Recipient: testRecipient, Lamports: 1})
		assert.Error(t, err)
	})
}

func TestResolveSignature(t *testing.T) {
	ctx := context.Background()

	t.Run("finalized updates the journal", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Status", mock.Anything, "sig-late").Return(&solana.SignatureStatus{
			Signature: "sig-late",
			Found:     true,
			Level:     solana.LevelFinalized,
			Status:    "finalized",
			Slot:      42,
		}, nil)
		f.store.On("UpdateSubmissionStatus", mock.Anything, "sig-late", db.StatusFinalized, mock.Anything, (*string)(nil)).
			Return(&db.Submission{}, nil)

		result, err := f.acts.ResolveSignature(ctx, ResolveSignatureInput{Signature: "sig-late", Level: "confirmed"})
		require.NoError(t, err)
		assert.Equal(t, TransferConfirmed, result.Status)
		assert.Equal(t, uint64(42), result.Slot)
		f.store.AssertExpectations(t)
	})

	t.Run("below the requested level stays unknown", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Status", mock.Anything, "sig").Return(&solana.SignatureStatus{
			Found:  true,
			Level:  solana.LevelProcessed,
			Status: "processed",
		}, nil)

		result, err := f.acts.ResolveSignature(ctx, ResolveSignatureInput{Signature: "sig", Level: "finalized"})
		require.NoError(t, err)
		assert.Equal(t, TransferUnknown, result.Status)
		f.store.AssertNotCalled(t, "UpdateSubmissionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Status", mock.Anything, "sig").Return(&solana.SignatureStatus{Found: false}, nil)

		result, err := f.acts.ResolveSignature(ctx, ResolveSignatureInput{Signature: "sig"})
		require.NoError(t, err)
		assert.False(t, result.Found)
		assert.Equal(t, TransferUnknown, result.Status)
	})

	t.Run("failed on chain", func(t *testing.T) {
		f := newActivitiesFixture(t)
		msg := "InstructionError"
		f.submitter.On("Status", mock.Anything, "sig").Return(&solana.SignatureStatus{
			Found:  true,
			Level:  solana.LevelConfirmed,
			Status: "confirmed",
			Err:    &msg,
		}, nil)
		f.store.On("UpdateSubmissionStatus", mock.Anything, "sig", db.StatusFailed, mock.Anything, &msg).
			Return(&db.Submission{}, nil)

		result, err := f.acts.ResolveSignature(ctx, ResolveSignatureInput{Signature: "sig"})
		require.NoError(t, err)
		assert.Equal(t, TransferFailed, result.Status)
		f.store.AssertExpectations(t)
	})

	t.Run("network errors are returned for retry", func(t *testing.T) {
		f := newActivitiesFixture(t)
		f.submitter.On("Status", mock.Anything, "sig").
			Return(nil, &solana.Error{Kind: solana.KindNetwork, Op: "status"})

		_, err := f.acts.ResolveSignature(ctx, ResolveSignatureInput{Signature: "sig"})
		assert.Error(t, err)
	})
}
