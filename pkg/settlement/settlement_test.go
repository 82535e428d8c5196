package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/advisr/consult-billing/pkg/models"
)

func TestBuild(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	session := &models.Session{
		SessionID:      "s-1",
		AccountID:      "acct-1",
		ExpertID:       "exp-1",
		ElapsedSeconds: 492,
		EndCause:       models.EndCauseUser,
	}

	t.Run("Final Cost Matches Debit", func(t *testing.T) {
		entry := &models.LedgerEntry{EntryID: "e-1", Amount: 13500}

		receipt := Build(session, entry, false, now)

		assert.Equal(t, "s-1", receipt.SessionID)
		assert.Equal(t, int64(492), receipt.DurationSeconds)
		assert.Equal(t, int64(13500), receipt.FinalCost)
		assert.Equal(t, "e-1", receipt.LedgerEntryID)
		assert.False(t, receipt.Partial)
		assert.Nil(t, receipt.Rating)
	})

	t.Run("Partial Keeps Debited Amount", func(t *testing.T) {
		// Projected cost was higher; the receipt reflects the clipped debit.
		entry := &models.LedgerEntry{EntryID: "e-2", Amount: 5000}

		receipt := Build(session, entry, true, now)

		assert.Equal(t, int64(5000), receipt.FinalCost)
		assert.True(t, receipt.Partial)
	})

	t.Run("Nothing Debitable", func(t *testing.T) {
		receipt := Build(session, nil, true, now)

		assert.Zero(t, receipt.FinalCost)
		assert.Empty(t, receipt.LedgerEntryID)
		assert.True(t, receipt.Partial)
	})
}

func TestBuildAborted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	session := &models.Session{
		SessionID: "s-2",
		AccountID: "acct-1",
		ExpertID:  "exp-1",
		EndCause:  models.EndCauseUser,
	}

	receipt := BuildAborted(session, now)

	assert.Zero(t, receipt.FinalCost)
	assert.Zero(t, receipt.DurationSeconds)
	assert.Empty(t, receipt.LedgerEntryID)
	assert.False(t, receipt.Partial)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "session_settlement:s-1", Reason("s-1"))
}
