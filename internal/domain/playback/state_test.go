package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_StringParseRoundtrip(t *testing.T) {
	tests := []struct {
		state    State
		wire     string
		parsable bool
	}{
		{StateNone, "none", true},
		{StatePaused, "paused", true},
		{StatePlaying, "playing", true},
		{StateEnded, "ended", true},
		{StateWaiting, "waiting", true},
		{StateSuspended, "suspended", false}, // local only, never parsed off the wire
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.state.String())

			parsed, ok := Parse(tt.wire)
			assert.Equal(t, tt.parsable, ok)
			if tt.parsable {
				assert.Equal(t, tt.state, parsed)
			}
		})
	}
}

func TestParse_Unknown(t *testing.T) {
	_, ok := Parse("rewinding")
	assert.False(t, ok)
}

func TestState_Shareable(t *testing.T) {
	assert.Equal(t, StatePaused, StateSuspended.Shareable())
	assert.Equal(t, StatePlaying, StatePlaying.Shareable())
	assert.Equal(t, StateWaiting, StateWaiting.Shareable())
}

func TestState_Advancing(t *testing.T) {
	assert.True(t, StatePlaying.Advancing())
	assert.False(t, StatePaused.Advancing())
	assert.False(t, StateWaiting.Advancing())
}
