package smelt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestNonBlockingReadBeforeStart: a non-blocking read with nothing produced
// returns zero rows immediately.
func TestNonBlockingReadBeforeStart(t *testing.T) {
	_, d := newTestSession(t, 4, 10000)
	begin := time.Now()
	rows, err := d.Read(1000, 0)
	elapsed := time.Since(begin)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Read returned %d rows, want 0", len(rows))
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("non-blocking read took %v; it must not block", elapsed)
	}
}

// TestTimeoutReadCompleteness: a timeout comfortably larger than the time to
// produce the requested rows yields exactly that many rows, without error.
func TestTimeoutReadCompleteness(t *testing.T) {
	s, d := newTestSession(t, 2, 10000)
	if err := s.Start(0); err != nil {
		t.Fatal(err)
	}
	defer s.End()

	// 1000 rows at 10 kSPS take ~100 ms; allow 5 s.
	rows, err := d.Read(1000, 5*time.Second)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if len(rows) != 1000 {
		t.Errorf("Read returned %d rows, want exactly 1000", len(rows))
	}
}

func TestBlockingReadContinuous(t *testing.T) {
	s, d := newTestSession(t, 4, 10000)
	if err := s.Start(0); err != nil {
		t.Fatal(err)
	}
	defer s.End()

	rows, err := d.Read(1000, -1)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if len(rows) != 1000 {
		t.Errorf("Read returned %d rows, want 1000", len(rows))
	}
	for i, row := range rows {
		if len(row) != 4 {
			t.Fatalf("row %d has width %d, want 4", i, len(row))
		}
	}
}

// TestReadTimeoutPartial: when the budget expires first, Read returns
// whatever was collected, with no error.
func TestReadTimeoutPartial(t *testing.T) {
	s, d := newTestSession(t, 1, 1000)
	if err := s.Start(0); err != nil {
		t.Fatal(err)
	}
	defer s.End()

	// At 1 kSPS only ~150 of the requested 1000 rows can exist in 150 ms.
	rows, err := d.Read(1000, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Read returned %v", err)
	}
	if len(rows) == 0 || len(rows) >= 1000 {
		t.Errorf("Read returned %d rows, want a partial fill (0 < n < 1000)", len(rows))
	}
}

// TestWriteLoopbackDelivery: rows queued by Write are sent in place of the
// generated ones, come back through the loopback, and feed the signals'
// measurement destinations.
func TestWriteLoopbackDelivery(t *testing.T) {
	s, d := newTestSession(t, 2, 10000)
	meas := make([]float64, 10)
	d.Signal(0).MeasureBuffer(meas)

	rows := make([]SampleRow, 10)
	for i := range rows {
		rows[i] = SampleRow{float64(i), float64(-i)}
	}
	n, err := d.Write(rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("Write queued %d rows, want 10", n)
	}

	if err := s.Run(10); err != nil {
		t.Fatal(err)
	}
	got, err := d.Read(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, rows, got, "loopback should echo the written rows")
	assert.Equal(t, 9.0, d.Signal(0).LastMeasurement())
	assert.Equal(t, -9.0, d.Signal(1).LastMeasurement())
	for i := range meas {
		assert.Equal(t, float64(i), meas[i], "measurement buffer entry %d", i)
	}
}

// TestWriteNonBlockingBound: a non-blocking write queues only what fits.
func TestWriteNonBlockingBound(t *testing.T) {
	s, d := newTestSession(t, 1, 10000)
	capacity := s.QueueSize()
	rows := make([]SampleRow, capacity+10)
	for i := range rows {
		rows[i] = SampleRow{0}
	}
	n, err := d.Write(rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != capacity {
		t.Errorf("Write queued %d rows, want the queue capacity %d", n, capacity)
	}
}

// TestWriteTimeoutExpires: a bounded-wait write on a full queue with no
// consumer gives up at the deadline.
func TestWriteTimeoutExpires(t *testing.T) {
	s, d := newTestSession(t, 1, 10000)
	capacity := s.QueueSize()
	rows := make([]SampleRow, capacity+1)
	for i := range rows {
		rows[i] = SampleRow{0}
	}
	begin := time.Now()
	n, err := d.Write(rows, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != capacity {
		t.Errorf("Write queued %d rows, want %d", n, capacity)
	}
	if elapsed := time.Since(begin); elapsed < 100*time.Millisecond {
		t.Errorf("Write returned after %v, before the deadline", elapsed)
	}
}

func TestUnattachedDevice(t *testing.T) {
	d := NewDevice()
	if _, err := d.Read(1, 0); err == nil {
		t.Error("Read on an unattached device should fail")
	}
	if _, err := d.Write([]SampleRow{{0, 0, 0, 0}}, 0); err == nil {
		t.Error("Write on an unattached device should fail")
	}
}

func TestDefaultDeviceLayout(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, 4, d.NumSignals())
	names := []string{"A.V", "A.I", "B.V", "B.I"}
	for i, want := range names {
		assert.Equal(t, want, d.Signal(i).Name)
	}
}
