package smelt

import "math"

// SourceKind identifies the active sample generator of a Signal.
type SourceKind int

// Names for the possible values of SourceKind
const (
	ConstantSource  SourceKind = iota // every sample equals one fixed value
	SquareSource                      // two-level wave with a duty fraction
	SawtoothSource                    // descending ramp, restarts each period
	StairstepSource                   // descending ramp quantized to 10 levels
	SineSource                        // raised cosine
	TriangleSource                    // symmetric up-down ramp
	BufferSource                      // replays a caller-owned slice
	CallbackSource                    // asks a SourceFunc for each sample
)

// DestKind identifies the active measurement destination of a Signal.
type DestKind int

// Names for the possible values of DestKind
const (
	NoDest       DestKind = iota // measurements update LastMeasurement only
	BufferDest                   // measurements append into a caller-owned slice
	CallbackDest                 // measurements are handed to a SinkFunc
)

// SourceFunc produces the sample at a given running index. It is called only
// on the production goroutine.
type SourceFunc func(index uint64) float64

// SinkFunc consumes one measured sample. It is called only on the production
// goroutine.
type SinkFunc func(value float64)

// Signal is the per-channel generator/measurement state machine. It holds one
// active source and at most one active destination; switching either resets
// the associated phase or running index. Source and destination buffers are
// borrowed: the Signal keeps a non-owning view of caller-provided storage,
// which must stay valid for as long as the Signal uses it.
//
// GetSample and PutSample are not safe for concurrent use; only the session's
// production goroutine may call them.
type Signal struct {
	Name string

	src      SourceKind
	midpoint float64
	peak     float64
	period   float64 // samples per cycle, may be non-integral
	duty     float64
	phase    float64 // running offset in samples

	srcBuf    []float64
	srcRepeat bool
	srcIdx    uint64 // running index for buffer and callback sources
	srcFn     SourceFunc

	dest    DestKind
	destBuf []float64
	destIdx int
	destFn  SinkFunc

	lastMeasurement float64
}

// SourceConstant makes every generated sample equal value.
func (s *Signal) SourceConstant(value float64) {
	s.src = ConstantSource
	s.midpoint = value
}

// SourceSquare generates a two-level wave: midpoint for the duty fraction of
// each period, peak for the remainder.
func (s *Signal) SourceSquare(midpoint, peak, period, duty, phase float64) {
	s.src = SquareSource
	s.updatePhase(period, phase)
	s.midpoint = midpoint
	s.peak = peak
	s.duty = duty
}

// SourceSawtooth generates a ramp from peak down to midpoint once per period.
func (s *Signal) SourceSawtooth(midpoint, peak, period, phase float64) {
	s.src = SawtoothSource
	s.updatePhase(period, phase)
	s.midpoint = midpoint
	s.peak = peak
}

// SourceStairstep generates the sawtooth ramp quantized to 10 discrete levels.
func (s *Signal) SourceStairstep(midpoint, peak, period, phase float64) {
	s.src = StairstepSource
	s.updatePhase(period, phase)
	s.midpoint = midpoint
	s.peak = peak
}

// SourceSine generates a raised cosine between midpoint and peak.
func (s *Signal) SourceSine(midpoint, peak, period, phase float64) {
	s.src = SineSource
	s.updatePhase(period, phase)
	s.midpoint = midpoint
	s.peak = peak
}

// SourceTriangle generates a symmetric triangle wave.
func (s *Signal) SourceTriangle(midpoint, peak, period, phase float64) {
	s.src = TriangleSource
	s.updatePhase(period, phase)
	s.midpoint = midpoint
	s.peak = peak
}

// SourceBuffer replays data. With repeat the replay restarts at the first
// element after the last; without it the final element is held forever. The
// slice is borrowed, not copied.
func (s *Signal) SourceBuffer(data []float64, repeat bool) {
	s.src = BufferSource
	s.srcBuf = data
	s.srcRepeat = repeat
	s.srcIdx = 0
}

// SourceCallback asks fn for each generated sample, passing a running index
// that starts at 0 and increments on every call.
func (s *Signal) SourceCallback(fn SourceFunc) {
	s.src = CallbackSource
	s.srcFn = fn
	s.srcIdx = 0
}

// MeasureBuffer directs measured samples into buf until it is full; further
// samples still update LastMeasurement but are otherwise discarded. The slice
// is borrowed, not copied.
func (s *Signal) MeasureBuffer(buf []float64) {
	s.dest = BufferDest
	s.destBuf = buf
	s.destIdx = 0
}

// MeasureCallback hands each measured sample to fn.
func (s *Signal) MeasureCallback(fn SinkFunc) {
	s.dest = CallbackDest
	s.destFn = fn
}

// PutSample delivers one measured value to the active destination and
// unconditionally records it as the last measurement.
func (s *Signal) PutSample(value float64) {
	s.lastMeasurement = value
	switch s.dest {
	case BufferDest:
		if s.destIdx < len(s.destBuf) {
			s.destBuf[s.destIdx] = value
			s.destIdx++
		}
	case CallbackDest:
		s.destFn(value)
	}
}

// LastMeasurement returns the most recent value passed to PutSample.
func (s *Signal) LastMeasurement() float64 {
	return s.lastMeasurement
}

// GetSample advances the signal by one sample and returns the next source
// value. It never fails.
func (s *Signal) GetSample() float64 {
	switch s.src {
	case ConstantSource:
		return s.midpoint

	case BufferSource:
		if int(s.srcIdx) >= len(s.srcBuf) {
			if !s.srcRepeat {
				return s.srcBuf[len(s.srcBuf)-1]
			}
			s.srcIdx = 0
		}
		v := s.srcBuf[s.srcIdx]
		s.srcIdx++
		return v

	case CallbackSource:
		v := s.srcFn(s.srcIdx)
		s.srcIdx++
		return v
	}

	peakToPeak := s.peak - s.midpoint
	phase := s.phase
	normPhase := phase / s.period
	if normPhase < 0 {
		normPhase++
	}
	s.phase = math.Mod(s.phase+1, s.period)

	switch s.src {
	case SquareSource:
		if normPhase < s.duty {
			return s.midpoint
		}
		return s.peak

	case SawtoothSource:
		intPeriod := math.Trunc(s.period)
		intPhase := math.Trunc(phase)
		fracPeriod := s.period - intPeriod
		fracPhase := phase - intPhase

		// The largest integer value the pre-wrap phase can reach depends on
		// the fractional parts. For example:
		// - period = 100.6, first phase = 0.3: phase visits 0.3, 1.3, ..., 100.3
		// - period = 100.6, first phase = 0.7: phase visits 0.7, 1.7, ..., 99.7
		// Dividing by that maximum keeps the ramp continuous when the period
		// is non-integral.
		var maxIntPhase float64
		if fracPeriod <= fracPhase {
			maxIntPhase = intPeriod - 1
		} else {
			maxIntPhase = intPeriod
		}
		return s.peak - intPhase/maxIntPhase*peakToPeak

	case StairstepSource:
		return s.peak - math.Floor(normPhase*10)*peakToPeak/9

	case SineSource:
		return s.midpoint + (1+math.Cos(normPhase*2*math.Pi))*peakToPeak/2

	case TriangleSource:
		// Like the sine, the wave spans [midpoint, peak]: "midpoint" names
		// the lower endpoint, not the center. That is the established
		// behavior of this instrument family, so it is kept as-is.
		return s.midpoint + math.Abs(1-normPhase*2)*peakToPeak
	}
	return 0
}

func (s *Signal) updatePhase(newPeriod, newPhase float64) {
	s.phase = newPhase
	s.period = newPeriod
}
