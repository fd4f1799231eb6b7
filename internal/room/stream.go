package room

import (
	"bytes"

	"go.uber.org/zap"
)

const frameDelimiter = '\n'

// Reassembler recovers discrete JSON messages from one peer connection's byte
// stream. Frames are newline-delimited, but a peer's first message may arrive
// as a single undelimited JSON document; only that no-delimiter-yet case gets
// a whole-buffer parse attempt. Once any delimiter has appeared in the buffer,
// trailing partial data always waits for the next delimiter.
type Reassembler struct {
	buf []byte
}

// Push appends a chunk and returns every complete message it unlocked.
// Malformed delimited fragments are logged and dropped, never retried.
func (r *Reassembler) Push(chunk []byte) []Message {
	r.buf = append(r.buf, chunk...)

	if !bytes.ContainsRune(r.buf, frameDelimiter) {
		m, err := Decode(r.buf)
		if err != nil {
			// Incomplete frame, keep accumulating.
			return nil
		}
		r.buf = nil
		return []Message{m}
	}

	parts := bytes.Split(r.buf, []byte{frameDelimiter})
	remainder := parts[len(parts)-1]
	r.buf = append([]byte(nil), remainder...)
	if len(r.buf) == 0 {
		r.buf = nil
	}

	var msgs []Message
	for _, part := range parts[:len(parts)-1] {
		frame := bytes.TrimSpace(part)
		if len(frame) == 0 {
			continue
		}
		m, err := Decode(frame)
		if err != nil {
			zap.L().Error("room.peer_frame_discarded", zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// Buffered returns the bytes currently waiting for completion.
func (r *Reassembler) Buffered() []byte { return r.buf }
