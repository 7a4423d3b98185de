package stream

import "github.com/habspeaker/habspeaker/internal/protocol"

// ChunkSource yields PCM chunks until it returns an error; io.EOF marks a
// normal end.
type ChunkSource interface {
	Next() ([]byte, error)
}

// Tagger prefixes every chunk from its source with the session id. Payload
// bytes pass through unchanged.
type Tagger struct {
	session *Session
	source  ChunkSource
}

// NewTagger wraps source for the given session
func NewTagger(session *Session, source ChunkSource) *Tagger {
	return &Tagger{session: session, source: source}
}

// Next returns the next frame, or the source's error unchanged
func (t *Tagger) Next() ([]byte, error) {
	chunk, err := t.source.Next()
	if err != nil {
		return nil, err
	}

	t.session.recordChunk(len(chunk))
	return protocol.EncodeFrame(t.session.ID, chunk), nil
}
