package smelt

import (
	"errors"
	"fmt"
	"time"
)

// SampleRow is one timestep's value across all configured signals of a
// device, in signal order.
type SampleRow []float64

// ErrSampleDrop reports that produced rows were lost because the sample queue
// reached capacity before being consumed. It is recoverable: the session and
// device remain fully usable after it is observed, and it will not be raised
// again until the queue reaches capacity another time.
var ErrSampleDrop = errors.New("sample drop: queue reached capacity before being consumed")

// Device bundles the signals belonging to one physical unit and exposes
// row-oriented Read and Write on top of its session's queues.
type Device struct {
	signals []*Signal
	session *Session
}

// NewDevice creates a device with the standard two-channel layout: voltage
// and current signals for channels A and B, so each row is 4 floats wide.
func NewDevice() *Device {
	d := NewDeviceWithSignals(4)
	names := []string{"A.V", "A.I", "B.V", "B.I"}
	for i, sig := range d.signals {
		sig.Name = names[i]
	}
	return d
}

// NewDeviceWithSignals creates a device with n generically named signals.
func NewDeviceWithSignals(n int) *Device {
	d := &Device{signals: make([]*Signal, n)}
	for i := range d.signals {
		d.signals[i] = &Signal{Name: fmt.Sprintf("sig%d", i)}
	}
	return d
}

// NumSignals returns the number of signals, which is also the row width.
func (d *Device) NumSignals() int {
	return len(d.signals)
}

// Signal returns the i'th signal for source/measurement configuration.
func (d *Device) Signal(i int) *Signal {
	return d.signals[i]
}

// Read collects up to count rows from the session's incoming queue.
//
// Timeout semantics:
//   - 0: non-blocking; return immediately whatever is queued, possibly nothing.
//   - negative: block until exactly count rows are collected or an overflow
//     is observed, whichever comes first.
//   - positive: collect until count is reached, the budget expires (return
//     what was collected, no error), or an overflow is observed.
//
// When an overflow is observed, Read returns ErrSampleDrop together with the
// rows collected before the observation; those rows are delivered normally
// and the overflow flag re-arms only after the queue fills again.
func (d *Device) Read(count int, timeout time.Duration) ([]SampleRow, error) {
	if d.session == nil {
		return nil, fmt.Errorf("device is not attached to a session")
	}
	q := d.session.inQ
	out := make([]SampleRow, 0, count)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
	}

	for {
		out = append(out, q.PopBatch(count-len(out))...)
		if q.TakeOverflow() {
			d.session.dropsObserved.Add(1)
			d.session.sendUpdate("OVERFLOW",
				struct{ DropsObserved uint64 }{d.session.dropsObserved.Load()})
			return out, ErrSampleDrop
		}
		if len(out) >= count || timeout == 0 {
			return out, nil
		}
		if timer == nil {
			<-q.Ready()
			continue
		}
		select {
		case <-q.Ready():
		case <-timer.C:
			out = append(out, q.PopBatch(count-len(out))...)
			return out, nil
		}
	}
}

// Write queues rows for the output side: the production loop prefers queued
// rows over the signal generators, one row per tick, and still delivers the
// measured results to the signals' destinations. The timeout semantics mirror
// Read: 0 returns after queueing whatever fits, negative blocks until all
// rows are queued, positive blocks up to the budget. Write returns the number
// of rows queued.
func (d *Device) Write(rows []SampleRow, timeout time.Duration) (int, error) {
	if d.session == nil {
		return 0, fmt.Errorf("device is not attached to a session")
	}
	q := d.session.outQ
	written := 0
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
	}

	for written < len(rows) {
		if q.Push(rows[written]) {
			written++
			continue
		}
		// Our own rejected push armed the queue's overflow flag; writers
		// learn about fullness from the Push result, so clear it here.
		q.TakeOverflow()
		if timeout == 0 {
			return written, nil
		}
		if timer == nil {
			<-q.Space()
			continue
		}
		select {
		case <-q.Space():
		case <-timer.C:
			return written, nil
		}
	}
	return written, nil
}
