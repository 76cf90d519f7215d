package protocol

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/syncroom/internal/domain/track"
)

func TestStamp_Supersedes(t *testing.T) {
	tests := []struct {
		name     string
		s, o     Stamp
		expected bool
	}{
		{
			name:     "later timestamp wins",
			s:        Stamp{Timestamp: 2000, SenderID: "z"},
			o:        Stamp{Timestamp: 1000, SenderID: "a"},
			expected: true,
		},
		{
			name:     "earlier timestamp loses",
			s:        Stamp{Timestamp: 1000, SenderID: "a"},
			o:        Stamp{Timestamp: 2000, SenderID: "z"},
			expected: false,
		},
		{
			name:     "tie: smaller sender wins",
			s:        Stamp{Timestamp: 5000, SenderID: "a"},
			o:        Stamp{Timestamp: 5000, SenderID: "b"},
			expected: true,
		},
		{
			name:     "tie: larger sender loses",
			s:        Stamp{Timestamp: 5000, SenderID: "b"},
			o:        Stamp{Timestamp: 5000, SenderID: "a"},
			expected: false,
		},
		{
			name:     "identical stamp is not superseding",
			s:        Stamp{Timestamp: 5000, SenderID: "a"},
			o:        Stamp{Timestamp: 5000, SenderID: "a"},
			expected: false,
		},
		{
			name:     "anything beats the zero stamp",
			s:        Stamp{Timestamp: 0, SenderID: "a"},
			o:        Stamp{},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.s.Supersedes(tt.o))
		})
	}
}

func TestEncodeDecode_Command(t *testing.T) {
	meta := track.Metadata{"track_identity": "t1"}
	env, err := Encode("client-1", 1234, KindPlay, Command{Track: meta, Position: 12.5})
	require.NoError(t, err)

	assert.Equal(t, "client-1", env.ClientID)
	assert.Equal(t, int64(1234), env.Timestamp)
	assert.Equal(t, KindPlay, env.Name)
	assert.Equal(t, Stamp{Timestamp: 1234, SenderID: "client-1"}, env.Stamp())

	cmd, err := Decode[Command](env)
	require.NoError(t, err)
	assert.Equal(t, 12.5, cmd.Position)
	assert.True(t, meta.Equal(cmd.Track))
}

func TestDecode_Malformed(t *testing.T) {
	env := Envelope{ClientID: "c", Timestamp: 1, Name: KindPlay, Data: []byte(`{not json`)}

	_, err := Decode[Command](env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedEvent))
}

func TestKind_Restricted(t *testing.T) {
	assert.True(t, KindPlay.Restricted())
	assert.True(t, KindPause.Restricted())
	assert.True(t, KindSeekTo.Restricted())
	assert.True(t, KindSetTrack.Restricted())
	assert.True(t, KindSetTrackData.Restricted())
	assert.False(t, KindPositionUpdate.Restricted())
	assert.False(t, KindJoined.Restricted())
}
