package sink

import "errors"

var (
	// ErrUnsupportedAudioFormat rejects a stream whose format the sink cannot play
	ErrUnsupportedAudioFormat = errors.New("unsupported audio format")

	// ErrUnsupportedAudioStream rejects a stream without a known total length
	ErrUnsupportedAudioStream = errors.New("unsupported audio stream")

	// ErrSinkStopped is returned by Process when the sink is not running
	ErrSinkStopped = errors.New("sink stopped")
)
