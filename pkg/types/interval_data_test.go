package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalDataInsertSortedSplicesIntoPosition(t *testing.T) {
	d := NewIntervalData(NewInterval(UnitMinute, 1), false, 10)
	t0 := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	d.Append(Bar{Timestamp: t0, Close: 100})
	d.Append(Bar{Timestamp: t0.Add(2 * time.Minute), Close: 102})

	d.InsertSorted(Bar{Timestamp: t0.Add(time.Minute), Close: 101})

	require.Equal(t, 3, d.Len())
	b0, _ := d.At(0)
	b1, _ := d.At(1)
	b2, _ := d.At(2)
	assert.True(t, b0.Timestamp.Equal(t0))
	assert.True(t, b1.Timestamp.Equal(t0.Add(time.Minute)))
	assert.True(t, b2.Timestamp.Equal(t0.Add(2 * time.Minute)))

	latest, ok := d.Latest()
	require.True(t, ok)
	assert.True(t, latest.Timestamp.Equal(t0.Add(2*time.Minute)))
}

func TestIntervalDataInsertSortedTrimsOldestWhenFull(t *testing.T) {
	d := NewIntervalData(NewInterval(UnitMinute, 1), false, 2)
	t0 := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	d.Append(Bar{Timestamp: t0.Add(time.Minute), Close: 101})
	d.Append(Bar{Timestamp: t0.Add(2 * time.Minute), Close: 102})

	d.InsertSorted(Bar{Timestamp: t0, Close: 100})

	require.Equal(t, 2, d.Len())
	b0, _ := d.At(0)
	b1, _ := d.At(1)
	assert.True(t, b0.Timestamp.Equal(t0.Add(time.Minute)))
	assert.True(t, b1.Timestamp.Equal(t0.Add(2 * time.Minute)))
}
