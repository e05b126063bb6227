package smelt

// Transport is the collaborator that moves rows between the core and the
// instrument: one batch of generated rows out, one batch of measured rows
// back, per production step. Implementations are called only from the
// session's production goroutine.
type Transport interface {
	Exchange(out []SampleRow) ([]SampleRow, error)
}

// LoopbackTransport is the simulated transport: every generated row comes
// straight back as the measured row. It is what the test suite and the
// simulated acquisition mode use.
type LoopbackTransport struct{}

// Exchange returns a copy of the outgoing batch as the incoming batch.
func (LoopbackTransport) Exchange(out []SampleRow) ([]SampleRow, error) {
	in := make([]SampleRow, len(out))
	for i, row := range out {
		in[i] = append(SampleRow(nil), row...)
	}
	return in, nil
}
