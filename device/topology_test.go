package device

import (
	"errors"
	"testing"

	"chainctl/device/asic"
)

func TestTopologyChipsAndAddrs(t *testing.T) {
	topo := Topology{Domains: 13, ChipsPerDomain: 7, AddrInterval: 2}
	if got := topo.Chips(); got != 91 {
		t.Fatalf("Chips() = %d, want 91", got)
	}
	if err := topo.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	addrs := []struct {
		idx  int
		addr uint8
	}{
		{0, 0x00},
		{1, 0x02},
		{6, 0x0C},
		{90, 0xB4},
	}
	for _, a := range addrs {
		if got := topo.AddrOf(a.idx); got != a.addr {
			t.Errorf("AddrOf(%d) = %#02x, want %#02x", a.idx, got, a.addr)
		}
	}
}

func TestTopologyValidate(t *testing.T) {
	bad := []Topology{
		{Domains: 0, ChipsPerDomain: 7, AddrInterval: 2},
		{Domains: 13, ChipsPerDomain: 0, AddrInterval: 2},
		{Domains: 13, ChipsPerDomain: 7, AddrInterval: 0},
		{Domains: 13, ChipsPerDomain: 7, AddrInterval: 3},
		{Domains: 16, ChipsPerDomain: 16, AddrInterval: 2},
	}
	for _, topo := range bad {
		if err := topo.Validate(); !errors.Is(err, asic.ErrBadTopology) {
			t.Errorf("Validate(%+v) = %v, want ErrBadTopology", topo, err)
		}
	}

	good := []Topology{
		{Domains: 1, ChipsPerDomain: 1, AddrInterval: 256},
		{Domains: 4, ChipsPerDomain: 16, AddrInterval: 4},
		{Domains: 13, ChipsPerDomain: 7, AddrInterval: 2},
	}
	for _, topo := range good {
		if err := topo.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", topo, err)
		}
	}
}

func TestAddrIntervalFor(t *testing.T) {
	cases := []struct {
		chips    int
		interval uint16
	}{
		{1, 256},
		{64, 4},
		{91, 2},
		{128, 2},
		{256, 1},
		{0, 0},
	}
	for _, c := range cases {
		if got := AddrIntervalFor(c.chips); got != c.interval {
			t.Errorf("AddrIntervalFor(%d) = %d, want %d", c.chips, got, c.interval)
		}
	}
}
