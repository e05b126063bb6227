/*Package usbtrans implements the USB bulk transport for the instrument.

Each production step is one bulk OUT transfer carrying the generated rows and
one bulk IN transfer carrying the measured rows back. A transfer is a 12-byte
header followed by one little-endian uint16 code per signal per row:

	0-3  magic "SMLT"
	4-5  row count, LSB first
	6-7  signals per row, LSB first
	8-11 reserved (0x00)

Codes map linearly onto the +/-5 V input range of the analog front end.

The transport satisfies smelt.Transport and is driven only by the session's
production goroutine, so it keeps no locks of its own.
*/
package usbtrans

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gousb"

	"github.com/smeltdaq/smelt"
)

const (
	vendorID  = 0x0456 // Analog Devices, Inc.
	productID = 0xcee2

	endpointNum = 2
	headerSize  = 12
	bytesPerVal = 2

	fullScale = 5.0 // volts at the rails, symmetric about 0
)

var magic = [4]byte{'S', 'M', 'L', 'T'}

// Transport is a USB bulk transport for one attached instrument.
type Transport struct {
	ctx     *gousb.Context
	device  *gousb.Device
	iface   *gousb.Interface
	done    func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	nsig    int
	scratch []byte
}

// Open finds the instrument by its vendor and product ID and claims its
// default interface. nsignals fixes the row width of every transfer.
func Open(nsignals int) (*Transport, error) {
	if nsignals < 1 {
		return nil, fmt.Errorf("usbtrans needs at least 1 signal, got %d", nsignals)
	}
	t := &Transport{nsig: nsignals}
	t.ctx = gousb.NewContext()
	var err error
	t.device, err = t.ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
	if err != nil {
		t.ctx.Close()
		return nil, err
	}
	if t.device == nil {
		t.ctx.Close()
		return nil, fmt.Errorf("no device with VID:PID %04x:%04x attached", vendorID, productID)
	}
	if err = t.device.SetAutoDetach(true); err != nil {
		t.Close()
		return nil, err
	}
	t.iface, t.done, err = t.device.DefaultInterface()
	if err != nil {
		t.Close()
		return nil, err
	}
	if t.in, err = t.iface.InEndpoint(endpointNum); err != nil {
		t.Close()
		return nil, err
	}
	if t.out, err = t.iface.OutEndpoint(endpointNum); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the interface and USB context.
func (t *Transport) Close() error {
	if t.done != nil {
		t.done()
		t.done = nil
	}
	if t.device != nil {
		if err := t.device.Close(); err != nil {
			return err
		}
		t.device = nil
	}
	if t.ctx != nil {
		if err := t.ctx.Close(); err != nil {
			return err
		}
		t.ctx = nil
	}
	return nil
}

// Exchange sends one batch of generated rows and reads the matching batch of
// measured rows.
func (t *Transport) Exchange(out []smelt.SampleRow) ([]smelt.SampleRow, error) {
	msg := encodeBatch(out, t.nsig)
	if _, err := t.out.Write(msg); err != nil {
		return nil, fmt.Errorf("bulk OUT transfer failed: %w", err)
	}

	want := headerSize + len(out)*t.nsig*bytesPerVal
	if cap(t.scratch) < want {
		t.scratch = make([]byte, want)
	}
	buf := t.scratch[:want]
	if _, err := io.ReadFull(t.in, buf); err != nil {
		return nil, fmt.Errorf("bulk IN transfer failed: %w", err)
	}
	return decodeBatch(buf)
}

func encodeBatch(rows []smelt.SampleRow, nsig int) []byte {
	buf := make([]byte, headerSize+len(rows)*nsig*bytesPerVal)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(rows)))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(nsig))
	off := headerSize
	for _, row := range rows {
		for j := 0; j < nsig; j++ {
			var v float64
			if j < len(row) {
				v = row[j]
			}
			binary.LittleEndian.PutUint16(buf[off:off+2], encodeValue(v))
			off += 2
		}
	}
	return buf
}

func decodeBatch(buf []byte) ([]smelt.SampleRow, error) {
	if len(buf) < headerSize || string(buf[0:4]) != string(magic[:]) {
		smelt.ProblemLogger.Printf("malformed transfer header:\n%s", spew.Sdump(buf[:min(len(buf), headerSize)]))
		return nil, fmt.Errorf("malformed transfer header")
	}
	count := int(binary.LittleEndian.Uint16(buf[4:6]))
	nsig := int(binary.LittleEndian.Uint16(buf[6:8]))
	if want := headerSize + count*nsig*bytesPerVal; len(buf) < want {
		return nil, fmt.Errorf("short transfer: have %d bytes, header promises %d", len(buf), want)
	}
	rows := make([]smelt.SampleRow, count)
	off := headerSize
	for i := range rows {
		row := make(smelt.SampleRow, nsig)
		for j := 0; j < nsig; j++ {
			row[j] = decodeValue(binary.LittleEndian.Uint16(buf[off : off+2]))
			off += 2
		}
		rows[i] = row
	}
	return rows, nil
}

// encodeValue maps a voltage in [-fullScale, +fullScale] onto the 16-bit
// converter code, clamping out-of-range values at the rails.
func encodeValue(v float64) uint16 {
	if v < -fullScale {
		v = -fullScale
	} else if v > fullScale {
		v = fullScale
	}
	return uint16(math.Round((v + fullScale) / (2 * fullScale) * math.MaxUint16))
}

func decodeValue(code uint16) float64 {
	return float64(code)/math.MaxUint16*(2*fullScale) - fullScale
}
