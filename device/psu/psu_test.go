package psu

import "testing"

func TestLinear11(t *testing.T) {
	vectors := []struct {
		word uint16
		want float32
	}{
		{0x0000, 0.0},
		{0x0801, 2.0},     // exp 1, mantissa 1
		{0xF3C0, 240.0},   // Vin, exp -2
		{0x07D8, -40.0},   // negative temperature, exp 0
		{0x29F4, 16000.0}, // Pout limit, exp 5
		{0xD204, 8.0625},  // Iout, exp -6
		{0xCA80, 5.0},     // exp -7
		{0xFC00, -512.0},  // negative mantissa with negative exp
	}

	for _, v := range vectors {
		got := Linear11(v.word)
		if got != v.want {
			t.Errorf("Linear11(0x%04x) = %v, want %v", v.word, got, v.want)
		}
	}
}

func TestLinear16(t *testing.T) {
	saved := psuAddr
	defer func() { psuAddr = saved }()

	psuAddr = cpPsuAddr
	if got := Linear16(0x0640); got != 12.5 {
		t.Errorf("CP Linear16(0x0640) = %v, want 12.5", got)
	}
	if got := Linear16(0x0A00); got != 20.0 {
		t.Errorf("CP Linear16(0x0A00) = %v, want 20.0", got)
	}
	if got := ReverseLinear16(12.5); got != 0x0640 {
		t.Errorf("CP ReverseLinear16(12.5) = 0x%04x, want 0x0640", got)
	}

	psuAddr = apPsuAddr
	if got := Linear16(0x1900); got != 12.5 {
		t.Errorf("AP Linear16(0x1900) = %v, want 12.5", got)
	}
	if got := ReverseLinear16(12.5); got != 0x1900 {
		t.Errorf("AP ReverseLinear16(12.5) = 0x%04x, want 0x1900", got)
	}
}

func TestLinear16RoundTrip(t *testing.T) {
	saved := psuAddr
	defer func() { psuAddr = saved }()

	for _, a := range []uint8{cpPsuAddr, apPsuAddr} {
		psuAddr = a
		for _, v := range []float32{11.0, 12.5, 13.25, 15.0} {
			if got := Linear16(ReverseLinear16(v)); got != v {
				t.Errorf("addr 0x%02x round trip %v = %v", a, v, got)
			}
		}
	}
}
