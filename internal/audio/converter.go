package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ConverterConfig contains conversion parameters
type ConverterConfig struct {
	TargetSampleRate int
	MaxChunkBytes    int // upper bound on each emitted chunk, rounded down to whole samples
	ReadBlockBytes   int // source bytes requested per read
	Resampler        ResamplerKind
	SincQuality      int
}

// Converter turns a WAV byte stream into canonical PCM chunks. It is pull
// based: each call to Next reads at most one block from the source, so memory
// use is bounded regardless of stream length.
type Converter struct {
	src       *WAVSource
	resampler Resampler
	target    Format
	maxChunk  int

	block   []float32
	samples []float32
	pending []byte

	produced int64 // output samples
	eof      bool
	err      error
}

// NewConverter parses the stream header and prepares the conversion. A
// source that cannot be converted is rejected here, before any chunk exists.
func NewConverter(r io.Reader, cfg ConverterConfig) (*Converter, error) {
	if cfg.TargetSampleRate <= 0 {
		return nil, fmt.Errorf("target sample rate must be positive, got %d", cfg.TargetSampleRate)
	}

	src, err := OpenWAV(r)
	if err != nil {
		return nil, err
	}

	rs, err := NewResampler(cfg.Resampler, src.Format().SampleRate, cfg.TargetSampleRate, cfg.SincQuality)
	if err != nil {
		return nil, err
	}

	maxChunk := cfg.MaxChunkBytes &^ 1
	if maxChunk < 2 {
		maxChunk = 2
	}

	blockFrames := 1
	if fs := src.Format().FrameSize(); cfg.ReadBlockBytes > fs {
		blockFrames = cfg.ReadBlockBytes / fs
	}

	return &Converter{
		src:       src,
		resampler: rs,
		target:    Canonical(cfg.TargetSampleRate),
		maxChunk:  maxChunk,
		block:     make([]float32, blockFrames),
	}, nil
}

// SourceFormat returns the format parsed from the stream header
func (c *Converter) SourceFormat() Format { return c.src.Format() }

// TargetFormat returns the format of the emitted PCM
func (c *Converter) TargetFormat() Format { return c.target }

// SamplesProduced returns the number of output samples converted so far
func (c *Converter) SamplesProduced() int64 { return c.produced }

// Next returns the next chunk of canonical PCM. Each chunk is a new slice of
// at most MaxChunkBytes with an even length. At the end of the stream Next
// returns io.EOF; a read or decode failure is returned once all output
// converted before it has been handed out, and is sticky afterwards.
func (c *Converter) Next() ([]byte, error) {
	for {
		if len(c.pending) > 0 {
			return c.take(), nil
		}
		if c.err != nil {
			return nil, c.err
		}
		if c.eof {
			return nil, io.EOF
		}
		c.fill()
	}
}

func (c *Converter) take() []byte {
	n := len(c.pending)
	if n > c.maxChunk {
		n = c.maxChunk
	}

	chunk := make([]byte, n)
	copy(chunk, c.pending[:n])
	c.pending = append(c.pending[:0], c.pending[n:]...)

	return chunk
}

func (c *Converter) fill() {
	n, err := c.src.ReadMono(c.block)

	c.samples = c.resampler.Process(c.block[:n], c.samples[:0])

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		c.samples = c.resampler.Flush(c.samples)
		c.eof = true
	default:
		c.err = fmt.Errorf("converting audio: %w", err)
	}

	c.encode(c.samples)
}

func (c *Converter) encode(samples []float32) {
	for _, s := range samples {
		c.pending = binary.LittleEndian.AppendUint16(c.pending, uint16(floatToInt16(s)))
	}
	c.produced += int64(len(samples))
}

// floatToInt16 rounds to the nearest 16-bit value, clamping out-of-range
// input (interpolation overshoot) instead of wrapping.
func floatToInt16(v float32) int16 {
	if v >= 1 {
		return math.MaxInt16
	}
	if v <= -1 {
		return math.MinInt16 + 1
	}
	return int16(math.Round(float64(v) * math.MaxInt16))
}
