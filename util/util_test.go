package util

import "testing"

func TestClosestPowerOf2(t *testing.T) {
	vectors := []struct{ in, want uint64 }{
		{1, 1},
		{2, 2},
		{3, 2},
		{255, 128},
		{256, 256},
		{257, 256},
		{65536, 65536},
	}
	for _, v := range vectors {
		if got := ClosestPowerOf2(v.in); got != v.want {
			t.Errorf("ClosestPowerOf2(%d) = %d, want %d", v.in, got, v.want)
		}
	}
}

func TestHexDump(t *testing.T) {
	if got := HexDump([]byte{0x55, 0xaa, 0x00, 0x1f}); got != "55 aa 00 1f" {
		t.Errorf("HexDump = %q", got)
	}
	if got := HexDump(nil); got != "" {
		t.Errorf("HexDump(nil) = %q", got)
	}
}

func TestUptimeInSec(t *testing.T) {
	if got := UptimeInSec(10.0, 4.5); got != 5.5 {
		t.Errorf("UptimeInSec = %v", got)
	}
	// never reports zero or negative uptime
	if got := UptimeInSec(4.5, 10.0); got != 0.01 {
		t.Errorf("UptimeInSec clamp = %v", got)
	}
}
