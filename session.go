package smelt

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smeltdaq/smelt/internal/rowring"
)

// SessionState is used to indicate the idle/running/transition state of a session.
type SessionState int

// Names for the possible values of SessionState
const (
	Idle     SessionState = iota // No production loop is active
	Running                      // The production loop is generating rows
	Stopping                     // A stop was requested; the loop has not yet exited
)

func (st SessionState) String() string {
	switch st {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("SessionState(%d)", int(st))
}

// The production clock is derived from a 48 MHz master clock by an integer
// divisor, which determines the set of achievable sample rates.
const (
	masterClock   = 48e6
	minSampleRate = 100
	maxSampleRate = 200000
)

// The incoming queue holds about 100 ms of rows at the configured rate, with
// a floor so very slow rates still buffer a useful amount.
const minQueueSize = 256

// DefaultSampleRate is the rate a new session is configured for.
const DefaultSampleRate = 100000

// Session orchestrates the acquisition lifecycle for one device: it owns the
// sample queues and the production goroutine, and drives the device's signals
// once per production tick. At most one production goroutine exists at a
// time, started by Run or Start and joined by End (or by Run returning).
type Session struct {
	sampleRate float64
	queueSize  int
	inQ        *rowring.Ring[SampleRow]
	outQ       *rowring.Ring[SampleRow]
	dev        *Device
	transport  Transport

	abort   chan struct{} // Signal to the production loop to stop at the next batch boundary
	runDone sync.WaitGroup
	runErr  error // transport error from the last run; written before runDone.Done, read after Wait

	rowsProduced  atomic.Uint64
	dropsObserved atomic.Uint64

	updates chan<- StatusUpdate

	state     SessionState
	stateLock sync.Mutex // guards state and the Idle-only reconfiguration fields
}

// NewSession creates a session configured for DefaultSampleRate with a
// loopback transport. Attach a device with AddDevice before starting
// production.
func NewSession() *Session {
	s := &Session{transport: LoopbackTransport{}}
	s.applyRate(DefaultSampleRate)
	return s
}

// AddDevice attaches dev to the session so its signals are driven by the
// production loop and its Read/Write calls use the session's queues.
// Allowed only while Idle.
func (s *Session) AddDevice(dev *Device) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return fmt.Errorf("cannot add a device to a session that is %v, not Idle", s.state)
	}
	if s.dev != nil {
		return fmt.Errorf("session already has a device attached")
	}
	s.dev = dev
	dev.session = s
	return nil
}

// SetTransport replaces the transport collaborator. Allowed only while Idle.
func (s *Session) SetTransport(t Transport) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return fmt.Errorf("cannot change transport while session is %v", s.state)
	}
	s.transport = t
	return nil
}

// SetStatusChan directs session status updates (state transitions, overflow
// observations) to ch. Sends never block; updates are dropped if ch is full.
func (s *Session) SetStatusChan(ch chan<- StatusUpdate) {
	s.updates = ch
}

// Configure quantizes targetRate to the nearest rate the production clock
// supports and resizes the sample queues for it. It returns the achieved rate,
// or a negative value if targetRate is out of range or the session is not
// Idle. The achieved rate is always within 256 SPS of an in-range target.
func (s *Session) Configure(targetRate float64) float64 {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return -1
	}
	if targetRate < minSampleRate || targetRate > maxSampleRate {
		return -1
	}
	divisor := math.Round(masterClock / targetRate)
	actual := masterClock / divisor
	s.applyRate(actual)
	s.sendUpdate("RATE", struct{ SampleRate float64 }{actual})
	return actual
}

func (s *Session) applyRate(rate float64) {
	s.sampleRate = rate
	s.queueSize = int(rate / 10)
	if s.queueSize < minQueueSize {
		s.queueSize = minQueueSize
	}
	s.inQ = rowring.NewRing[SampleRow](s.queueSize)
	s.outQ = rowring.NewRing[SampleRow](s.queueSize)
}

// SampleRate returns the currently configured sample rate in SPS.
func (s *Session) SampleRate() float64 {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.sampleRate
}

// QueueSize returns the capacity of the sample queues, in rows.
func (s *Session) QueueSize() int {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.queueSize
}

// State returns the session state in a race-free fashion.
func (s *Session) State() SessionState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// RowsProduced returns the total number of rows generated since the session
// was created.
func (s *Session) RowsProduced() uint64 {
	return s.rowsProduced.Load()
}

// DropsObserved returns how many times an overflow has been reported to a
// caller, by Run or by a device read.
func (s *Session) DropsObserved() uint64 {
	return s.dropsObserved.Load()
}

// Run synchronously produces exactly n rows (fixed-length mode). If n exceeds
// the queue capacity, the queue still fills to capacity and Run reports the
// drop as ErrSampleDrop; the buffered rows remain intact and readable. The
// session returns to Idle before Run returns.
func (s *Session) Run(n int) error {
	if n <= 0 {
		return fmt.Errorf("Run needs a positive sample count, got %d", n)
	}
	if err := s.begin(uint64(n), false); err != nil {
		return err
	}
	s.runDone.Wait()
	if s.runErr != nil {
		return s.runErr
	}
	if s.inQ.TakeOverflow() {
		s.dropsObserved.Add(1)
		s.sendUpdate("OVERFLOW", struct{ DropsObserved uint64 }{s.dropsObserved.Load()})
		return ErrSampleDrop
	}
	return nil
}

// Start begins continuous background production without blocking the caller.
// A limit of 0 means unbounded; otherwise production stops after limit rows.
func (s *Session) Start(limit uint64) error {
	return s.begin(limit, true)
}

// Cancel requests that the continuous loop stop at the next batch boundary.
// It is idempotent and does not block; the loop keeps ownership of the queue
// until it actually exits.
func (s *Session) Cancel() {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state == Running || s.state == Stopping {
		s.state = Stopping
		closeIfOpen(s.abort)
	}
}

// End blocks until the production loop has fully stopped. No further queue
// pushes occur after End returns. Valid after Cancel, directly from Running,
// or from Idle (where it returns immediately).
func (s *Session) End() {
	s.Cancel()
	s.runDone.Wait()
}

// Flush drops all buffered rows and clears the overflow flags on both queues
// without touching the rate or mode configuration. Allowed only while Idle.
func (s *Session) Flush() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return fmt.Errorf("cannot flush a session that is %v, not Idle", s.state)
	}
	s.inQ.Clear()
	s.outQ.Clear()
	return nil
}

// begin transitions Idle -> Running and launches the production goroutine.
func (s *Session) begin(limit uint64, paced bool) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return fmt.Errorf("cannot start production on a session that is %v, not Idle", s.state)
	}
	if s.dev == nil {
		return fmt.Errorf("session has no device attached")
	}
	s.state = Running
	s.abort = make(chan struct{})
	s.runErr = nil
	s.runDone.Add(1)
	go s.produce(limit, paced)
	s.sendUpdate("STATE", struct{ State string }{Running.String()})
	return nil
}

// produce is the production loop. It is the only goroutine that may call the
// device signals' GetSample/PutSample while it runs. Fixed-length runs are
// not paced; continuous runs sleep between batches to hold the configured
// sample rate.
func (s *Session) produce(limit uint64, paced bool) {
	defer s.deactivate()

	batch := int(s.sampleRate / 100)
	if batch < 1 {
		batch = 1
	}
	batchPeriod := time.Duration(float64(time.Second) * float64(batch) / s.sampleRate)
	signals := s.dev.signals
	var produced uint64

	for {
		if paced {
			select {
			case <-s.abort:
				return
			case <-time.After(batchPeriod):
			}
		} else {
			select {
			case <-s.abort:
				return
			default:
			}
		}

		n := batch
		if limit > 0 && produced+uint64(n) > limit {
			n = int(limit - produced)
		}
		out := make([]SampleRow, n)
		for i := range out {
			row := make(SampleRow, len(signals))
			if w := s.outQ.PopBatch(1); len(w) == 1 {
				// Rows supplied through Device.Write take precedence over the
				// signal generators for this tick.
				copy(row, w[0])
			} else {
				for j, sig := range signals {
					row[j] = sig.GetSample()
				}
			}
			out[i] = row
		}

		in, err := s.transport.Exchange(out)
		if err != nil {
			s.runErr = err
			ProblemLogger.Printf("transport exchange failed; stopping production: %v", err)
			return
		}
		for _, row := range in {
			for j, sig := range signals {
				if j < len(row) {
					sig.PutSample(row[j])
				}
			}
			s.inQ.Push(row)
		}
		produced += uint64(len(in))
		s.rowsProduced.Add(uint64(len(in)))

		if limit > 0 && produced >= limit {
			return
		}
	}
}

func (s *Session) deactivate() {
	s.stateLock.Lock()
	s.state = Idle
	s.stateLock.Unlock()
	s.runDone.Done()
	s.sendUpdate("STATE", struct{ State string }{Idle.String()})
}

func (s *Session) sendUpdate(tag string, message interface{}) {
	if s.updates == nil {
		return
	}
	select {
	case s.updates <- StatusUpdate{Tag: tag, Message: message}:
	default:
	}
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
		ProblemLogger.Println("warning: tried to close a channel twice")
	default:
		close(c)
	}
}
