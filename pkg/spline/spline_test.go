// Unit tests for the bending curve
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package spline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorsInterpolated(t *testing.T) {
	c, err := NewDefault(115.5, 205.5, 0, 100)
	require.NoError(t, err)

	assert.InDelta(t, 115.5, c.LateralAt(0), 1e-9, "start anchor")
	assert.InDelta(t, 205.5, c.LateralAt(100), 1e-9, "end anchor")
	assert.InDelta(t, 0, c.OffsetAt(0), 1e-9, "offset is relative to start anchor")
}

func TestBoundarySlopes(t *testing.T) {
	c, err := NewDefault(115.5, 205.5, 0, 100)
	require.NoError(t, err)

	// Clamped boundary conditions: slope 0 at the bottom, 2.5 at the top.
	assert.InDelta(t, 0, math.Tan(c.AngleAt(0)), 1e-9)
	assert.InDelta(t, 2.5, math.Tan(c.AngleAt(100)), 1e-9)
	assert.InDelta(t, 0, c.AngleDegAt(0), 1e-9)
}

func TestFlatCurveIsIdentity(t *testing.T) {
	c, err := New(Config{XStart: 50, XEnd: 50, ZStart: 0, ZEnd: 100})
	require.NoError(t, err)

	for _, h := range []float64{0, 12.34, 50, 99.99} {
		assert.InDelta(t, 0, c.OffsetAt(h), 1e-9, "flat curve has no lateral offset at %v", h)
		assert.InDelta(t, 0, c.AngleAt(h), 1e-9, "flat curve has no tangent angle at %v", h)
		// With no lateral motion the arc length equals the height.
		assert.InDelta(t, h, c.HeightFor(h), c.cfg.Discretization+1e-9, "flat arc length at %v", h)
	}
}

func TestArcLengthCompression(t *testing.T) {
	c, err := NewDefault(115.5, 205.5, 0, 100)
	require.NoError(t, err)

	// On a bent curve the cumulative arc length grows faster than the
	// height, so the corrected height for a nominal Z must not exceed Z.
	for _, z := range []float64{5, 25, 60} {
		h := c.HeightFor(z)
		assert.LessOrEqual(t, h, z+1e-9, "corrected height at %v", z)
		assert.Greater(t, h, 0.0)
	}
}

func TestHeightForBeyondCurve(t *testing.T) {
	c, err := NewDefault(115.5, 205.5, 0, 10)
	require.NoError(t, err)

	// Far beyond the tabulated curve the nominal height comes back as-is.
	assert.Equal(t, 500.0, c.HeightFor(500))
}

func TestSamplesOrderedAndPure(t *testing.T) {
	c, err := NewDefault(115.5, 205.5, 0, 100)
	require.NoError(t, err)

	s1 := c.Samples(1)
	s2 := c.Samples(1)
	require.NotEmpty(t, s1)
	assert.Equal(t, s1, s2, "sampling must be deterministic")

	for i := 1; i < len(s1); i++ {
		assert.Greater(t, s1[i].Height, s1[i-1].Height, "heights strictly increase")
	}
	assert.InDelta(t, 0, s1[0].LateralOffset, 1e-9)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewDefault(0, 10, 100, 100)
	assert.Error(t, err, "degenerate height range must be rejected")

	_, err = New(Config{XStart: 0, XEnd: 10, ZStart: 0, ZEnd: 100, Discretization: -1})
	assert.Error(t, err, "negative discretization must be rejected")
}
