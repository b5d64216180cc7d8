package astro_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithium-sequencer/sequencer/internal/astro"
)

func TestPolarTargetAltitudeStaysNearLatitude(t *testing.T) {
	obs := astro.Observer{LatitudeDeg: 45, LongitudeDeg: 0}
	target := astro.Target{RAHours: 0, DecDeg: 89}
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	for h := 0; h < 24; h++ {
		pos := astro.ToHorizontal(obs, target, start.Add(time.Duration(h)*time.Hour))
		assert.InDelta(t, 45.0, pos.AltitudeDeg, 1.0, "hour %d", h)
	}
}

func TestPolarTargetWindowSpansFullDay(t *testing.T) {
	obs := astro.Observer{LatitudeDeg: 45, LongitudeDeg: 0}
	target := astro.Target{RAHours: 0, DecDeg: 89}
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	win := astro.ObservabilityWindow(obs, target, start, 30)
	require.False(t, win.IsEmpty())
	assert.True(t, win.End.Sub(win.Start) >= 23*time.Hour)
}

func TestCelestialEquatorAtTransitFromEquator(t *testing.T) {
	obs := astro.Observer{LatitudeDeg: 0, LongitudeDeg: 0}
	target := astro.Target{RAHours: 0, DecDeg: 0}

	// Find the UTC instant of transit (hour angle zero) by scanning.
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	var transit time.Time
	for t := start; t.Before(start.Add(24 * time.Hour)); t = t.Add(time.Minute) {
		if math.Abs(astro.HourAngle(t, obs.LongitudeDeg, target)) < 0.01 {
			transit = t
			break
		}
	}
	require.False(t, transit.IsZero())

	pos := astro.ToHorizontal(obs, target, transit)
	assert.InDelta(t, 90.0, pos.AltitudeDeg, 1.0)
}

func TestGreenwichSiderealTimeIsDeterministic(t *testing.T) {
	instant := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	a := astro.GreenwichSiderealTime(instant)
	b := astro.GreenwichSiderealTime(instant)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 24.0)
}

func TestMeridianFlipWithinWindow(t *testing.T) {
	obs := astro.Observer{LatitudeDeg: 45, LongitudeDeg: 0}
	target := astro.Target{RAHours: 12, DecDeg: 45}
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	win := astro.ObservabilityWindow(obs, target, start, 30)
	if win.IsEmpty() {
		t.Skip("no observability window for this configuration at this date")
	}
	flip, ok := astro.MeridianFlip(obs, target, win)
	if ok {
		assert.False(t, flip.Before(win.Start))
		assert.False(t, flip.After(win.End))
	}
}

func TestEmptyWindowHasNoMeridianFlip(t *testing.T) {
	_, ok := astro.MeridianFlip(astro.Observer{}, astro.Target{}, astro.Window{})
	assert.False(t, ok)
}
