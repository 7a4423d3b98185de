// Package sink is the boundary between the host and the speaker pipeline.
//
// Process validates an incoming stream against the advertised formats and
// stream types, then drives conversion, session tagging and broadcast until
// the stream ends. Only rejection is reported to the caller; failures during
// playback are logged so the host can keep submitting streams. Calls are
// serialized per sink.
package sink
