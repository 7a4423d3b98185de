// Package server is the network edge of the speaker service.
//
// One HTTP server carries everything:
//
//	POST {alias}/sink            audio ingest from the host, played through the sink
//	GET  {alias}/ws              websocket endpoint for speakers (binary PCM frames)
//	GET  /rest/habspeaker/config read-only speaker configuration
//	GET  {alias}/...             web client resources, optionally pre-compressed
//	GET  /health, /stats         monitoring
//	GET  /sessions/{id}          details of the session currently playing
//	GET  /metrics                Prometheus metrics
//
// Each frame sent to a speaker starts with the 4-byte session id followed by
// 16-bit little-endian mono PCM at the configured target rate.
package server
