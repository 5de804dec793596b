package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetyEvent_JSON(t *testing.T) {
	event := SafetyEvent{
		Sequence:   4,
		From:       StateHolding,
		To:         StateCutoff,
		Trigger:    TriggerSensorUnreliable,
		FusedTemp:  Temperature(1003),
		Confidence: ConfidenceUnreliable,
		Profile:    "lcd-separation",
		Timestamp:  time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"sequence": 4,
		"from": "Holding",
		"to": "Cutoff",
		"trigger": "sensor_unreliable",
		"fused_temp": 1003,
		"confidence": "unreliable",
		"profile": "lcd-separation",
		"timestamp": "2026-10-14T09:00:00Z"
	}`, string(data))

	var decoded SafetyEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event, decoded)
}

func TestUnmarshalText_Unknown(t *testing.T) {
	var s SafetyState
	assert.Error(t, s.UnmarshalText([]byte("Armed")))

	var c Confidence
	assert.Error(t, c.UnmarshalText([]byte("high")))
}
