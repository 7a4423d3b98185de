package audio

import (
	"fmt"

	"github.com/oov/audio/resampler"
)

// ResamplerKind selects the interpolation used when source and target rates differ
type ResamplerKind string

const (
	// ResamplerCubic is Catmull-Rom interpolation with a two-sample lookahead.
	ResamplerCubic ResamplerKind = "cubic"
	// ResamplerSinc is the windowed-sinc resampler from github.com/oov/audio.
	ResamplerSinc ResamplerKind = "sinc"
)

// Resampler converts a mono sample stream between rates. Implementations are
// causal: Process only looks at samples already supplied, holding back the
// few needed for interpolation until more input or Flush arrives.
//
// For N input samples every implementation emits exactly OutputLength(N)
// samples in total across Process and Flush calls.
type Resampler interface {
	// Process appends the output made available by in to out.
	Process(in, out []float32) []float32
	// Flush appends the remaining output once the source is exhausted.
	Flush(out []float32) []float32
}

// OutputLength returns ceil(n * dstRate / srcRate), the number of target-rate
// samples covering n source samples.
func OutputLength(n int64, srcRate, dstRate int) int64 {
	src, dst := int64(srcRate), int64(dstRate)
	return (n*dst + src - 1) / src
}

// NewResampler builds a resampler for the given rates. Equal rates yield a
// pass-through regardless of kind.
func NewResampler(kind ResamplerKind, srcRate, dstRate, quality int) (Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", srcRate, dstRate)
	}

	if srcRate == dstRate {
		return passthrough{}, nil
	}

	switch kind {
	case ResamplerCubic, "":
		return newCubicResampler(srcRate, dstRate), nil
	case ResamplerSinc:
		return newSincResampler(srcRate, dstRate, quality), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResampler, kind)
	}
}

type passthrough struct{}

func (passthrough) Process(in, out []float32) []float32 { return append(out, in...) }
func (passthrough) Flush(out []float32) []float32       { return out }

// cubicResampler places output sample k at source position k*src/dst and
// interpolates from the four surrounding source samples. Positions use exact
// integer arithmetic so long streams do not drift.
type cubicResampler struct {
	src, dst int64

	k     int64     // next output index
	total int64     // source samples received
	base  int64     // absolute index of hist[0]
	hist  []float32 // retained source samples
}

func newCubicResampler(srcRate, dstRate int) *cubicResampler {
	return &cubicResampler{
		src:  int64(srcRate),
		dst:  int64(dstRate),
		hist: make([]float32, 0, 4096),
	}
}

func (r *cubicResampler) Process(in, out []float32) []float32 {
	r.hist = append(r.hist, in...)
	r.total += int64(len(in))
	return r.drain(out, false)
}

func (r *cubicResampler) Flush(out []float32) []float32 {
	return r.drain(out, true)
}

func (r *cubicResampler) drain(out []float32, eof bool) []float32 {
	for {
		pos := r.k * r.src
		i := pos / r.dst
		if i >= r.total {
			break
		}
		if !eof && i+2 >= r.total {
			break
		}

		frac := float32(pos%r.dst) / float32(r.dst)
		out = append(out, cubicInterpolate(r.at(i-1), r.at(i), r.at(i+1), r.at(i+2), frac))
		r.k++
	}

	// Keep history from one sample before the next interpolation point.
	keep := (r.k*r.src)/r.dst - 1
	if drop := keep - r.base; drop > 0 {
		if drop > int64(len(r.hist)) {
			drop = int64(len(r.hist))
		}
		r.hist = append(r.hist[:0], r.hist[drop:]...)
		r.base += drop
	}

	return out
}

// at returns source sample i, clamping to the stream edges.
func (r *cubicResampler) at(i int64) float32 {
	if i < 0 {
		i = 0
	}
	if i >= r.total {
		i = r.total - 1
	}
	return r.hist[i-r.base]
}

// cubicInterpolate is a Catmull-Rom spline through y1 and y2 at 0 <= x < 1.
func cubicInterpolate(y0, y1, y2, y3, x float32) float32 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1

	return a0*x*x*x + a1*x*x + a2*x + a3
}

const (
	sincBufferSize = 8192
	sincFlushBlock = 512
	// Upper bound on zero blocks fed while flushing; far above the filter delay
	// of any quality level.
	sincMaxFlushBlocks = 64
)

// sincResampler wraps the speex-derived resampler. Its filter delays output,
// so Flush feeds silence until the expected count is reached and trims the
// excess.
type sincResampler struct {
	r        *resampler.Resampler
	srcRate  int
	dstRate  int
	consumed int64
	produced int64
	buf      []float32
	zeros    []float32
}

func newSincResampler(srcRate, dstRate, quality int) *sincResampler {
	return &sincResampler{
		r:       resampler.New(1, srcRate, dstRate, quality),
		srcRate: srcRate,
		dstRate: dstRate,
		buf:     make([]float32, sincBufferSize),
		zeros:   make([]float32, sincFlushBlock),
	}
}

func (s *sincResampler) Process(in, out []float32) []float32 {
	s.consumed += int64(len(in))
	return s.feed(in, out)
}

func (s *sincResampler) feed(in, out []float32) []float32 {
	for len(in) > 0 {
		read, written := s.r.ProcessFloat32(0, in, s.buf)
		out = append(out, s.buf[:written]...)
		s.produced += int64(written)
		in = in[read:]
		if read == 0 && written == 0 {
			break
		}
	}
	return out
}

func (s *sincResampler) Flush(out []float32) []float32 {
	expected := OutputLength(s.consumed, s.srcRate, s.dstRate)
	start := len(out)

	for i := 0; s.produced < expected && i < sincMaxFlushBlocks; i++ {
		out = s.feed(s.zeros, out)
	}

	if excess := s.produced - expected; excess > 0 {
		if flushed := int64(len(out) - start); excess > flushed {
			excess = flushed
		}
		out = out[:len(out)-int(excess)]
		s.produced -= excess
	}

	return out
}
