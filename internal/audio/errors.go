package audio

import "errors"

var (
	// ErrUnsupportedFormat is returned before any output is produced when the
	// source container or encoding is outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrMalformedStream is returned when source bytes cannot be parsed.
	ErrMalformedStream = errors.New("malformed audio stream")

	ErrUnknownResampler = errors.New("unknown resampler")
)
