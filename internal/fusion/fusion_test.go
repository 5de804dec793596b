package fusion

import (
	"errors"
	"testing"
	"time"

	"forgecore/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func reading(id string, c int, valid bool) models.SensorReading {
	r := models.SensorReading{
		SensorID:    id,
		Temperature: models.Celsius(c),
		Timestamp:   t0,
		Valid:       valid,
	}
	if !valid {
		r.Err = errors.New("timeout")
	}
	return r
}

func newTestFuser(sensors int) *Fuser {
	return NewFuser(models.Celsius(5), sensors, zap.NewNop())
}

func TestFuse_NominalMean(t *testing.T) {
	f := newTestFuser(3)

	fused := f.Fuse([]models.SensorReading{
		reading("a", 100, true),
		reading("b", 101, true),
		reading("c", 102, true),
	})

	assert.Equal(t, models.ConfidenceNominal, fused.Confidence)
	assert.Equal(t, models.Celsius(101), fused.Value)
	assert.Equal(t, 3, fused.ContributingSensors)
	assert.Equal(t, t0, fused.Timestamp)
}

func TestFuse_MeanRoundsTowardHotter(t *testing.T) {
	f := newTestFuser(2)

	fused := f.Fuse([]models.SensorReading{
		{SensorID: "a", Temperature: 1000, Valid: true},
		{SensorID: "b", Temperature: 1001, Valid: true},
	})

	assert.Equal(t, models.Temperature(1001), fused.Value)
}

func TestFuse_StuckLowSensorUsesMedian(t *testing.T) {
	f := newTestFuser(3)

	fused := f.Fuse([]models.SensorReading{
		reading("a", 121, true),
		reading("b", 122, true),
		reading("c", 40, true),
	})

	assert.Equal(t, models.ConfidenceDegraded, fused.Confidence)
	assert.Equal(t, models.Celsius(121), fused.Value)
}

func TestFuse_EvenMedianTakesUpperMiddle(t *testing.T) {
	f := newTestFuser(4)

	fused := f.Fuse([]models.SensorReading{
		{SensorID: "a", Temperature: 500, Valid: true},
		{SensorID: "b", Temperature: 901, Valid: true},
		{SensorID: "c", Temperature: 910, Valid: true},
		{SensorID: "d", Temperature: 1500, Valid: true},
	})

	assert.Equal(t, models.ConfidenceDegraded, fused.Confidence)
	assert.Equal(t, models.Temperature(910), fused.Value)
}

func TestFuse_TwoSensorsStuckLowCannotMaskOverTemp(t *testing.T) {
	f := newTestFuser(2)

	fused := f.Fuse([]models.SensorReading{
		reading("a", 130, true),
		reading("b", 40, true),
	})

	assert.Equal(t, models.ConfidenceDegraded, fused.Confidence)
	assert.Equal(t, models.Celsius(130), fused.Value)
	assert.GreaterOrEqual(t, fused.Value, models.MaxSafeTemp)
}

func TestFuse_InvalidReadingsNeverMixed(t *testing.T) {
	f := newTestFuser(3)

	invalid := reading("c", 0, false)
	invalid.Temperature = models.Celsius(500) // 无效读数的数值不得影响结果

	fused := f.Fuse([]models.SensorReading{
		reading("a", 80, true),
		reading("b", 82, true),
		invalid,
	})

	assert.Equal(t, models.ConfidenceNominal, fused.Confidence)
	assert.Equal(t, models.Celsius(81), fused.Value)
	assert.Equal(t, 2, fused.ContributingSensors)
}

func TestFuse_NoValidReadingsUnreliable(t *testing.T) {
	f := newTestFuser(2)

	f.Fuse([]models.SensorReading{reading("a", 90, true), reading("b", 90, true)})
	fused := f.Fuse([]models.SensorReading{reading("a", 0, false), reading("b", 0, false)})

	assert.Equal(t, models.ConfidenceUnreliable, fused.Confidence)
	assert.Equal(t, models.Celsius(90), fused.Value)
	assert.Zero(t, fused.ContributingSensors)
}

func TestFuse_EmptyInputUnreliable(t *testing.T) {
	fused := newTestFuser(2).Fuse(nil)
	assert.Equal(t, models.ConfidenceUnreliable, fused.Confidence)
}

func TestFuse_SingleSurvivorDegraded(t *testing.T) {
	f := newTestFuser(3)

	fused := f.Fuse([]models.SensorReading{
		reading("a", 0, false),
		reading("b", 75, true),
		reading("c", 0, false),
	})

	assert.Equal(t, models.ConfidenceDegraded, fused.Confidence)
	assert.Equal(t, models.Celsius(75), fused.Value)
}

func TestFuse_SingleConfiguredSensorNominal(t *testing.T) {
	fused := newTestFuser(1).Fuse([]models.SensorReading{reading("a", 75, true)})
	assert.Equal(t, models.ConfidenceNominal, fused.Confidence)
}

func TestFuse_Idempotent(t *testing.T) {
	sets := [][]models.SensorReading{
		{reading("a", 121, true), reading("b", 122, true), reading("c", 40, true)},
		{reading("a", 60, true), reading("b", 61, true)},
		{reading("a", 0, false), reading("b", 0, false)},
		{reading("a", 0, false), reading("b", 99, true)},
	}
	for _, set := range sets {
		f := newTestFuser(len(set))
		first := f.Fuse(set)
		second := f.Fuse(set)
		assert.Equal(t, first, second)
	}
}
