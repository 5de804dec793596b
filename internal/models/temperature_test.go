package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemperatureConversions(t *testing.T) {
	assert.Equal(t, Temperature(1210), Celsius(121))
	assert.Equal(t, Temperature(365), FromMilliCelsius(36450))
	assert.Equal(t, Temperature(-13), FromMilliCelsius(-1250))
	assert.Equal(t, Temperature(469), FromFloat(46.9))
	assert.Equal(t, 120.0, MaxSafeTemp.Float())
	assert.Equal(t, "121.0°C", Celsius(121).String())
	assert.Equal(t, "-1.5°C", Temperature(-15).String())
}

func TestSafetyConstants(t *testing.T) {
	assert.Equal(t, Celsius(120), MaxSafeTemp)
	assert.Equal(t, Celsius(40), MinSafeTemp)
	assert.Equal(t, Celsius(5), TempHysteresis)
}

func TestOutputAllowed(t *testing.T) {
	for _, s := range []SafetyState{StateIdle, StateHolding, StateCoolingDown, StateCutoff, StateQuarantined} {
		assert.False(t, s.OutputAllowed(), s.String())
	}
	assert.True(t, StateHeating.OutputAllowed())
}
