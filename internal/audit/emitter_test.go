package audit

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"
	"time"

	"forgecore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// hashSigner 以 sha256 作为确定性“签名”
type hashSigner struct {
	calls int
}

func (s *hashSigner) Sign(_ context.Context, payload []byte) (models.Signature, error) {
	s.calls++
	sum := sha256.Sum256(payload)
	return models.Signature{Value: sum[:], KeyRef: "se-slot-1"}, nil
}

type hashVerifier struct{}

func (hashVerifier) Verify(payload, signature []byte) error {
	sum := sha256.Sum256(payload)
	if string(sum[:]) != string(signature) {
		return errors.New("bad signature")
	}
	return nil
}

type failingSigner struct{ err error }

func (s failingSigner) Sign(context.Context, []byte) (models.Signature, error) {
	return models.Signature{}, s.err
}

// hungSigner 忽略 ctx，直到测试结束才返回
type hungSigner struct{ release chan struct{} }

func (s hungSigner) Sign(context.Context, []byte) (models.Signature, error) {
	<-s.release
	return models.Signature{Value: []byte("late")}, nil
}

type failingSink struct{}

func (failingSink) Append(context.Context, models.AuditEntry) error {
	return errors.New("disk full")
}

func cutoffEvent(seq uint64) models.SafetyEvent {
	return models.SafetyEvent{
		Sequence:   seq,
		From:       models.StateHeating,
		To:         models.StateCutoff,
		Trigger:    models.TriggerOverTemperature,
		FusedTemp:  models.Celsius(121),
		Confidence: models.ConfidenceDegraded,
		Profile:    "lcd-separation",
		Timestamp:  t0.Add(time.Duration(seq) * time.Second),
	}
}

func newTestEmitter(signer Signer, sink Sink) *Emitter {
	e := NewEmitter(signer, sink, 50*time.Millisecond, zap.NewNop())
	e.now = func() time.Time { return t0 }
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("entry-%d", n)
	}
	return e
}

func TestEmitter_RecordSignedChain(t *testing.T) {
	sink := &MemorySink{}
	signer := &hashSigner{}
	e := newTestEmitter(signer, sink)

	first := e.Record(context.Background(), cutoffEvent(1))
	second := e.Record(context.Background(), cutoffEvent(2))

	assert.True(t, first.Signed())
	assert.Equal(t, "se-slot-1", first.SignerIdentityRef)
	assert.Empty(t, first.SignerError)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Empty(t, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, 2, signer.calls)

	entries, err := sink.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	report := VerifyChain(entries, hashVerifier{})
	assert.True(t, report.OK(), "%v", report.Problems)
	assert.Equal(t, 2, report.Signed)
	assert.Zero(t, report.Unsigned)

	hash, seq := e.Head()
	assert.Equal(t, second.Hash, hash)
	assert.Equal(t, uint64(2), seq)
}

func TestEmitter_SignerFailureStillRecords(t *testing.T) {
	sink := &MemorySink{}
	e := newTestEmitter(failingSigner{err: errors.New("secure element offline")}, sink)

	entry := e.Record(context.Background(), cutoffEvent(1))

	assert.False(t, entry.Signed())
	assert.Nil(t, entry.Signature)
	assert.Contains(t, entry.SignerError, "secure element offline")
	assert.NotEmpty(t, entry.Hash)
	assert.NotEmpty(t, entry.Canonical)
	assert.Equal(t, cutoffEvent(1), entry.Event)

	entries, _ := sink.Entries(context.Background())
	require.Len(t, entries, 1)

	report := VerifyChain(entries, hashVerifier{})
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Unsigned)
}

func TestEmitter_HungSignerIsBounded(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	e := newTestEmitter(hungSigner{release: release}, &MemorySink{})

	start := time.Now()
	entry := e.Record(context.Background(), cutoffEvent(1))

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, entry.Signed())
	assert.Contains(t, entry.SignerError, "did not answer")
}

func TestEmitter_NoSigner(t *testing.T) {
	e := newTestEmitter(nil, nil)

	entry := e.Record(context.Background(), cutoffEvent(1))

	assert.False(t, entry.Signed())
	assert.Equal(t, ErrNoSigner.Error(), entry.SignerError)
}

func TestEmitter_SinkFailureDoesNotPanicOrBreakChain(t *testing.T) {
	e := newTestEmitter(&hashSigner{}, MultiSink{failingSink{}, &MemorySink{}})

	first := e.Record(context.Background(), cutoffEvent(1))
	second := e.Record(context.Background(), cutoffEvent(2))

	assert.Equal(t, first.Hash, second.PrevHash)
}

func TestEmitter_Resume(t *testing.T) {
	sink := &MemorySink{}
	e := newTestEmitter(&hashSigner{}, sink)
	last := e.Record(context.Background(), cutoffEvent(1))

	restarted := newTestEmitter(&hashSigner{}, sink)
	restarted.newID = func() string { return "entry-after-restart" }
	restarted.Resume(last)
	next := restarted.Record(context.Background(), cutoffEvent(1))

	assert.Equal(t, last.Hash, next.PrevHash)
	assert.Equal(t, uint64(2), next.Sequence)

	entries, _ := sink.Entries(context.Background())
	assert.True(t, VerifyChain(entries, hashVerifier{}).OK())
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	mem := &MemorySink{}
	err := MultiSink{failingSink{}, mem}.Append(context.Background(), models.AuditEntry{ID: "x"})

	assert.Error(t, err)
	entries, _ := mem.Entries(context.Background())
	assert.Len(t, entries, 1)
}
