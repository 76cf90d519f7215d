package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/syncroom/internal/domain/playback"
	"github.com/osa030/syncroom/internal/protocol"
)

func TestRecord_ProjectAt(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		now      int64
		expected float64
	}{
		{
			name: "playing advances with elapsed time",
			record: Record{
				State:        playback.StatePlaying,
				Position:     10,
				PlaybackRate: 1,
				Stamp:        protocol.Stamp{Timestamp: 1000},
			},
			now:      4000,
			expected: 13,
		},
		{
			name: "playback rate scales the projection",
			record: Record{
				State:        playback.StatePlaying,
				Position:     10,
				PlaybackRate: 2,
				Stamp:        protocol.Stamp{Timestamp: 1000},
			},
			now:      2000,
			expected: 12,
		},
		{
			name: "paused does not advance",
			record: Record{
				State:        playback.StatePaused,
				Position:     10,
				PlaybackRate: 1,
				Stamp:        protocol.Stamp{Timestamp: 1000},
			},
			now:      9000,
			expected: 10,
		},
		{
			name: "waiting does not advance",
			record: Record{
				State:        playback.StateWaiting,
				Position:     10,
				PlaybackRate: 1,
				Stamp:        protocol.Stamp{Timestamp: 1000},
			},
			now:      9000,
			expected: 10,
		},
		{
			name: "clamped at zero",
			record: Record{
				State:        playback.StatePlaying,
				Position:     -5,
				PlaybackRate: 1,
				Stamp:        protocol.Stamp{Timestamp: 1000},
			},
			now:      1000,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.record.ProjectAt(tt.now), 1e-9)
		})
	}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, median([]float64{3}))
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}
