// Package audio handles audio format description and conversion.
// It decodes RIFF/WAVE PCM streams incrementally without seeking, mixes them down to
// mono, resamples to a fixed target rate and emits bounded 16-bit PCM chunks.
package audio
