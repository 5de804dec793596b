package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"forgecore/internal/fusion"
	"forgecore/internal/hardware"
	"forgecore/internal/models"
	"forgecore/internal/profile"
	"forgecore/internal/safety"
	"forgecore/internal/sensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.SafetyEvent
}

func (e *recordingEmitter) Emit(event models.SafetyEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) triggers() []models.Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Trigger, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Trigger)
	}
	return out
}

type loopFixture struct {
	loop    *ControlLoop
	sims    []*sensor.StaticSource
	line    *hardware.MemoryLine
	emitter *recordingEmitter
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	logger := zap.NewNop()

	sims := []*sensor.StaticSource{
		sensor.NewStaticSource("a", models.Celsius(25)),
		sensor.NewStaticSource("b", models.Celsius(25)),
		sensor.NewStaticSource("c", models.Celsius(25)),
	}
	sources := make([]sensor.Source, 0, len(sims))
	for _, s := range sims {
		sources = append(sources, s)
	}
	reader, err := sensor.NewReader(sources, 5*time.Millisecond, logger)
	require.NoError(t, err)

	profiles := profile.NewManager(logger)
	require.NoError(t, profiles.LoadPresets(profile.DefaultPresets))

	line := hardware.NewMemoryLine()
	emitter := &recordingEmitter{}
	machine, err := safety.NewMachine(safety.Config{
		DebounceWindow: time.Second,
		FaultWindow:    time.Minute,
		MaxCutoffs:     5,
		WarmupTimeout:  time.Minute,
	}, line, profiles, emitter, logger)
	require.NoError(t, err)

	loop := NewControlLoop(reader, fusion.NewFuser(models.Celsius(5), len(sims), logger), machine, 10*time.Millisecond, logger)
	return &loopFixture{loop: loop, sims: sims, line: line, emitter: emitter}
}

func (f *loopFixture) setAll(c int) {
	for _, s := range f.sims {
		s.Set(models.Celsius(c))
	}
}

func (f *loopFixture) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.loop.Done()
	})
	return cancel
}

func (f *loopFixture) waitState(t *testing.T, want models.SafetyState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.loop.Status().State == want
	}, 2*time.Second, 5*time.Millisecond, "state %s not reached, status %+v", want, f.loop.Status())
}

func TestControlLoop_Cycle(t *testing.T) {
	f := newLoopFixture(t)

	step := f.loop.Cycle(context.Background())

	assert.Equal(t, models.StateIdle, step.State)
	status := f.loop.Status()
	assert.Equal(t, uint64(1), status.Cycles)
	assert.Equal(t, models.Celsius(25), status.Fused.Value)
	assert.Equal(t, models.ConfidenceNominal, status.Fused.Confidence)
	assert.Equal(t, 3, status.Fused.ContributingSensors)
	assert.False(t, status.OutputEnabled)
}

func TestControlLoop_EnableThenOverTemperature(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)

	require.NoError(t, f.loop.Enable(context.Background(), "lcd-separation"))
	f.waitState(t, models.StateHeating)
	on, err := f.line.Enabled()
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "lcd-separation", f.loop.Status().Profile)

	f.setAll(125)
	f.waitState(t, models.StateCutoff)
	on, err = f.line.Enabled()
	require.NoError(t, err)
	assert.False(t, on)

	status := f.loop.Status()
	assert.Equal(t, 1, status.RecentCutoffs)
	assert.NotEmpty(t, status.LastFault)
	assert.Contains(t, f.emitter.triggers(), models.TriggerOverTemperature)
}

func TestControlLoop_RejectsUnknownProfile(t *testing.T) {
	f := newLoopFixture(t)
	f.start(t)

	err := f.loop.Enable(context.Background(), "no-such-profile")
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestControlLoop_ShutdownDisablesOutput(t *testing.T) {
	f := newLoopFixture(t)
	cancel := f.start(t)

	require.NoError(t, f.loop.Enable(context.Background(), "lcd-separation"))
	f.waitState(t, models.StateHeating)

	cancel()
	select {
	case <-f.loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("control loop did not stop")
	}

	on, err := f.line.Enabled()
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, models.StateIdle, f.loop.Status().State)
	triggers := f.emitter.triggers()
	assert.Equal(t, models.TriggerShutdown, triggers[len(triggers)-1])
}

func TestControlLoop_CommandAfterStop(t *testing.T) {
	f := newLoopFixture(t)
	cancel := f.start(t)
	cancel()
	<-f.loop.Done()

	assert.ErrorIs(t, f.loop.Disable(context.Background()), ErrLoopStopped)
}

func TestControlLoop_CommandRespectsContext(t *testing.T) {
	f := newLoopFixture(t)

	// 循环未运行，命令无法投递
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.loop.Enable(ctx, "lcd-separation"), context.DeadlineExceeded)
}
