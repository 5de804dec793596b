package audit

import (
	"context"
	"testing"

	"forgecore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordChain(t *testing.T, n int) []models.AuditEntry {
	t.Helper()
	sink := &MemorySink{}
	e := newTestEmitter(&hashSigner{}, sink)
	for i := 1; i <= n; i++ {
		e.Record(context.Background(), cutoffEvent(uint64(i)))
	}
	entries, err := sink.Entries(context.Background())
	require.NoError(t, err)
	return entries
}

func TestCanonicalize_Deterministic(t *testing.T) {
	a, err := Canonicalize("id", 1, "prev", cutoffEvent(1))
	require.NoError(t, err)
	b, err := Canonicalize("id", 1, "prev", cutoffEvent(1))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.JSONEq(t, `{
		"entry_id": "id", "entry_seq": 1, "prev_hash": "prev", "event_seq": 1,
		"from": "Heating", "to": "Cutoff", "trigger": "over_temperature",
		"fused_temp_dc": 1210, "confidence": "degraded", "profile": "lcd-separation",
		"detail": "", "ts": "2026-10-14T09:00:01Z"
	}`, string(a))
}

func TestVerifyChain_DetectsTamperedEvent(t *testing.T) {
	entries := recordChain(t, 3)
	entries[1].Event.FusedTemp = models.Celsius(100)

	report := VerifyChain(entries, hashVerifier{})

	require.False(t, report.OK())
	assert.Equal(t, 1, report.Problems[0].Index)
	assert.Contains(t, report.Problems[0].Reason, "canonical")
}

func TestVerifyChain_DetectsRemovedEntry(t *testing.T) {
	entries := recordChain(t, 3)
	entries = append(entries[:1], entries[2:]...)

	report := VerifyChain(entries, nil)

	require.False(t, report.OK())
	assert.Equal(t, "entry-3", report.Problems[0].EntryID)
}

func TestVerifyChain_DetectsStrippedSignature(t *testing.T) {
	entries := recordChain(t, 2)
	entries[0].Signature = nil

	report := VerifyChain(entries, nil)

	require.False(t, report.OK())
	var reasons []string
	for _, p := range report.Problems {
		reasons = append(reasons, p.Reason)
	}
	assert.Contains(t, reasons, "hash mismatch")
	assert.Contains(t, reasons, "signature absent without signer_error")
}

func TestVerifyChain_DetectsForgedSignature(t *testing.T) {
	entries := recordChain(t, 2)
	entries[1].Signature = []byte("forged")
	entries[1].Hash = ChainHash(entries[1].PrevHash, entries[1].Canonical, entries[1].Signature)

	report := VerifyChain(entries, hashVerifier{})

	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0].Reason, "signature invalid")
}

func TestVerifyChain_Empty(t *testing.T) {
	report := VerifyChain(nil, nil)
	assert.True(t, report.OK())
	assert.Zero(t, report.Total)
}
