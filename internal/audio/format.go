package audio

import (
	"fmt"
	"strings"
)

// Container identifies how PCM data is framed in a byte stream
type Container string

const (
	ContainerWAVE Container = "WAVE"
	ContainerNone Container = "NONE" // headerless PCM
)

// Codec identifies the sample encoding
type Codec string

const (
	CodecPCMSigned   Codec = "PCM_SIGNED"
	CodecPCMUnsigned Codec = "PCM_UNSIGNED"
	CodecPCMFloat    Codec = "PCM_FLOAT"
)

// ByteOrder of multi-byte samples
type ByteOrder string

const (
	LittleEndian ByteOrder = "LE"
	BigEndian    ByteOrder = "BE"
)

// Format describes an audio stream. Zero-valued fields are unspecified and
// match anything in IsCompatible, so a Format can describe either a concrete
// stream or a family of streams (e.g. "any WAV PCM").
type Format struct {
	Container  Container `json:"container,omitempty"`
	Codec      Codec     `json:"codec,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	BitDepth   int       `json:"bit_depth,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	ByteOrder  ByteOrder `json:"byte_order,omitempty"`
}

// WAV is the canonical container accepted from the host: signed linear PCM in RIFF/WAVE.
var WAV = Format{
	Container: ContainerWAVE,
	Codec:     CodecPCMSigned,
	ByteOrder: LittleEndian,
}

// CanonicalBitDepth and CanonicalChannels describe the fixed output layout.
const (
	CanonicalBitDepth = 16
	CanonicalChannels = 1
)

// Canonical returns the playback format emitted to clients at the given rate:
// headerless signed 16-bit little-endian mono.
func Canonical(sampleRate int) Format {
	return Format{
		Container:  ContainerNone,
		Codec:      CodecPCMSigned,
		SampleRate: sampleRate,
		BitDepth:   CanonicalBitDepth,
		Channels:   CanonicalChannels,
		ByteOrder:  LittleEndian,
	}
}

// IsCompatible reports whether f and other can describe the same stream.
// A field only conflicts when it is set on both sides with different values.
func (f Format) IsCompatible(other Format) bool {
	if f.Container != "" && other.Container != "" && f.Container != other.Container {
		return false
	}
	if f.Codec != "" && other.Codec != "" && f.Codec != other.Codec {
		return false
	}
	if f.SampleRate != 0 && other.SampleRate != 0 && f.SampleRate != other.SampleRate {
		return false
	}
	if f.BitDepth != 0 && other.BitDepth != 0 && f.BitDepth != other.BitDepth {
		return false
	}
	if f.Channels != 0 && other.Channels != 0 && f.Channels != other.Channels {
		return false
	}
	if f.ByteOrder != "" && other.ByteOrder != "" && f.ByteOrder != other.ByteOrder {
		return false
	}
	return true
}

// FrameSize returns the number of bytes per interleaved frame, or 0 when unknown.
func (f Format) FrameSize() int {
	if f.BitDepth <= 0 || f.Channels <= 0 {
		return 0
	}
	return (f.BitDepth + 7) / 8 * f.Channels
}

func (f Format) String() string {
	parts := []string{string(f.Container), string(f.Codec)}
	if f.SampleRate > 0 {
		parts = append(parts, fmt.Sprintf("%dHz", f.SampleRate))
	}
	if f.BitDepth > 0 {
		parts = append(parts, fmt.Sprintf("%dbit", f.BitDepth))
	}
	if f.Channels > 0 {
		parts = append(parts, fmt.Sprintf("%dch", f.Channels))
	}
	if f.ByteOrder != "" {
		parts = append(parts, string(f.ByteOrder))
	}
	return strings.Join(parts, "/")
}
