package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
		ok   bool
	}{
		{"integer", `{"type":"state","seq":7}`, 7, true},
		{"zero", `{"type":"state","seq":0}`, 0, true},
		{"fractional", `{"type":"state","seq":2.5}`, 2.5, true},
		{"missing", `{"type":"state"}`, 0, false},
		{"string", `{"type":"state","seq":"7"}`, 0, false},
		{"null", `{"type":"state","seq":null}`, 0, false},
		{"object", `{"type":"state","seq":{}}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			got, ok := m.SeqNumber()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestKindIsGame(t *testing.T) {
	assert.True(t, KindHello.IsGame())
	assert.True(t, KindStateRequest.IsGame())
	assert.True(t, KindState.IsGame())
	assert.True(t, KindMove.IsGame())
	assert.False(t, KindChat.IsGame())
	assert.False(t, KindJoined.IsGame())
	assert.False(t, KindError.IsGame())
	assert.False(t, Kind("resign").IsGame())
}

func TestEncodePreservesWireBytes(t *testing.T) {
	in := `{"type":"move","seq":3,"from":"g1","to":"f3","gameId":"g"}`
	m, err := Decode([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, in, string(m.Encode()))
}

func TestWithTimestamp(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	m, err := Decode([]byte(`{"type":"chat","username":"u","text":"x"}`))
	require.NoError(t, err)
	filled := m.WithTimestamp(now)
	assert.Equal(t, now.UnixMilli(), filled.Timestamp)
	assert.Contains(t, string(filled.Encode()), `"timestamp":1700000000000`)

	m, err = Decode([]byte(`{"type":"chat","username":"u","text":"x","timestamp":42}`))
	require.NoError(t, err)
	kept := m.WithTimestamp(now)
	assert.Equal(t, int64(42), kept.Timestamp)
}

func TestWithTimestampKeepsUnmodeledFields(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	m, err := Decode([]byte(`{"type":"chat","username":"u","text":"x","clientTag":"k7"}`))
	require.NoError(t, err)
	filled := m.WithTimestamp(now)

	var onWire map[string]any
	require.NoError(t, json.Unmarshal(filled.Encode(), &onWire))
	assert.Equal(t, "k7", onWire["clientTag"])
	assert.Equal(t, float64(1700000000000), onWire["timestamp"])
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
}
