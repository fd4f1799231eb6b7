package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReassemblerLoneUndelimitedFrame(t *testing.T) {
	var r Reassembler

	msgs := r.Push([]byte(`{"type":"chat","text":"a"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Empty(t, r.Buffered())
}

func TestReassemblerPartialFrameWaits(t *testing.T) {
	var r Reassembler

	msgs := r.Push([]byte(`{"type":"chat","te`))
	assert.Empty(t, msgs)
	assert.Equal(t, `{"type":"chat","te`, string(r.Buffered()))

	msgs = r.Push([]byte(`xt":"a"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Empty(t, r.Buffered())
}

func TestReassemblerDelimitedFrames(t *testing.T) {
	var r Reassembler

	msgs := r.Push([]byte("{\"type\":\"chat\",\"text\":\"a\"}\n{\"type\":\"chat\",\"text\":\"b\"}\n{\"ty"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, "b", msgs[1].Text)
	assert.Equal(t, `{"ty`, string(r.Buffered()))

	msgs = r.Push([]byte("pe\":\"chat\",\"text\":\"c\"}\n"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", msgs[0].Text)
	assert.Empty(t, r.Buffered())
}

func TestReassemblerSkipsBlankAndMalformedFragments(t *testing.T) {
	var r Reassembler

	// Malformed delimited fragments are dropped, never retried; blank lines
	// between frames are skipped.
	msgs := r.Push([]byte("not json\n\n  \n{\"type\":\"chat\",\"text\":\"ok\"}\n"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Text)
	assert.Empty(t, r.Buffered())
}

func TestReassemblerTrimsFragmentWhitespace(t *testing.T) {
	var r Reassembler

	msgs := r.Push([]byte("  {\"type\":\"chat\",\"text\":\"a\"}\r\n"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Text)
}

func TestReassemblerRelayBytesSurviveRoundTrip(t *testing.T) {
	var r Reassembler

	// Unmodelled payload fields must survive relay verbatim.
	frame := `{"type":"move","seq":4,"from":"e2","to":"e4"}`
	msgs := r.Push([]byte(frame + "\n"))
	require.Len(t, msgs, 1)
	assert.JSONEq(t, frame, string(msgs[0].Encode()))
}
