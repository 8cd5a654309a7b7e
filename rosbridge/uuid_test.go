package rosbridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeGoalUUID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   GoalUUID
		wantOK bool
	}{
		{
			name:   "canonical form is big-endian high then low bits",
			input:  "00112233-4455-6677-8899-aabbccddeeff",
			want:   GoalUUID{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
			wantOK: true,
		},
		{
			name:   "upper case accepted",
			input:  "FFFFFFFF-0000-0000-0000-000000000001",
			want:   GoalUUID{255, 255, 255, 255, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
			wantOK: true,
		},
		{
			name:   "garbage degrades to zeros",
			input:  "not-a-uuid",
			want:   GoalUUID{},
			wantOK: false,
		},
		{
			name:   "empty degrades to zeros",
			input:  "",
			want:   GoalUUID{},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := EncodeGoalUUID(tc.input)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGoalUUIDRoundTrip(t *testing.T) {
	id := NewGoalID()
	enc, ok := EncodeGoalUUID(id)
	require.True(t, ok)
	assert.Equal(t, id, enc.UUID())
}

func TestGoalUUIDWireForm(t *testing.T) {
	enc, _ := EncodeGoalUUID("00000000-0000-0000-0000-0000000000ff")

	b, err := json.Marshal(GoalID{UUID: enc})
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":[0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,255]}`, string(b))
	assert.Equal(t, "[0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,255]", enc.String())
}

func TestGoalUUIDUnmarshal(t *testing.T) {
	want := GoalUUID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 255}

	t.Run("number array", func(t *testing.T) {
		var got GoalUUID
		require.NoError(t, json.Unmarshal([]byte(`[1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,255]`), &got))
		assert.Equal(t, want, got)
	})

	t.Run("signed bytes wrap", func(t *testing.T) {
		var got GoalUUID
		require.NoError(t, json.Unmarshal([]byte(`[1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,-1]`), &got))
		assert.Equal(t, want, got)
	})

	t.Run("base64 string", func(t *testing.T) {
		var got GoalUUID
		require.NoError(t, json.Unmarshal([]byte(`"AQIDBAUGBwgJCgsMDQ4P/w=="`), &got))
		assert.Equal(t, want, got)
	})

	t.Run("wrong length", func(t *testing.T) {
		var got GoalUUID
		assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &got))
	})
}
