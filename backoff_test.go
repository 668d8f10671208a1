// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffNextGrowsTowardMax(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 100*time.Millisecond, 0)
	first, exhausted := b.Next()
	require.False(t, exhausted)
	second, exhausted := b.Next()
	require.False(t, exhausted)
	assert.Greater(t, second, first/2) // randomization keeps this loose, growth keeps it bounded below
	assert.LessOrEqual(t, second, 100*time.Millisecond)
}

func TestBackoffRespectsMandatoryStop(t *testing.T) {
	base := time.Now()
	restore := timeNow
	defer func() { timeNow = restore }()

	elapsed := time.Duration(0)
	timeNow = func() time.Time { return base.Add(elapsed) }

	b := NewBackoff(10*time.Millisecond, time.Second, 50*time.Millisecond)
	_, exhausted := b.Next()
	require.False(t, exhausted)

	elapsed = 60 * time.Millisecond
	_, exhausted = b.Next()
	assert.True(t, exhausted)
}

func TestBackoffResetRestartsBudget(t *testing.T) {
	base := time.Now()
	restore := timeNow
	defer func() { timeNow = restore }()

	elapsed := time.Duration(0)
	timeNow = func() time.Time { return base.Add(elapsed) }

	b := NewBackoff(10*time.Millisecond, time.Second, 50*time.Millisecond)
	elapsed = 60 * time.Millisecond
	_, exhausted := b.Next()
	require.True(t, exhausted)

	b.Reset()
	elapsed = 61 * time.Millisecond
	_, exhausted = b.Next()
	assert.False(t, exhausted)
}
