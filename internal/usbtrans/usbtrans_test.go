package usbtrans

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/smeltdaq/smelt"
)

func TestValueCodecRoundTrip(t *testing.T) {
	// One code step spans about 153 µV; allow a couple of steps of error.
	const tol = 5e-4
	for _, v := range []float64{-5, -2.5, -0.001, 0, 0.001, 1.25, 4.999, 5} {
		got := decodeValue(encodeValue(v))
		if math.Abs(got-v) > tol {
			t.Errorf("decode(encode(%v)) = %v, off by %v", v, got, math.Abs(got-v))
		}
	}
}

func TestValueCodecClamps(t *testing.T) {
	if encodeValue(100) != math.MaxUint16 {
		t.Error("values above the rail should clamp to full scale")
	}
	if encodeValue(-100) != 0 {
		t.Error("values below the rail should clamp to zero scale")
	}
}

func TestBatchCodecRoundTrip(t *testing.T) {
	rows := []smelt.SampleRow{
		{0, 1, -1, 2.5},
		{-5, 5, 0.125, -0.125},
		{3.3, -3.3, 0, 0},
	}
	buf := encodeBatch(rows, 4)
	got, err := decodeBatch(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(rows) {
		t.Fatalf("decoded %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		for j := range rows[i] {
			if math.Abs(got[i][j]-rows[i][j]) > 5e-4 {
				t.Errorf("row %d value %d = %v, want %v", i, j, got[i][j], rows[i][j])
			}
		}
	}
}

func TestDecodeBatchRejectsBadMagic(t *testing.T) {
	buf := encodeBatch([]smelt.SampleRow{{0}}, 1)
	buf[0] = 'X'
	if _, err := decodeBatch(buf); err == nil {
		t.Error("decodeBatch accepted a corrupted magic")
	}
}

func TestDecodeBatchRejectsShortBuffer(t *testing.T) {
	buf := encodeBatch([]smelt.SampleRow{{0}, {1}}, 1)
	// Claim more rows than the buffer carries.
	binary.LittleEndian.PutUint16(buf[4:6], 1000)
	if _, err := decodeBatch(buf); err == nil {
		t.Error("decodeBatch accepted a header promising more data than present")
	}
}
