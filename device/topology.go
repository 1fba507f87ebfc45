package device

import (
	"chainctl/device/asic"
)

// Topology is the physical layout of one chain: Domains voltage domains in
// series, each holding ChipsPerDomain chips, bus addresses spaced
// AddrInterval apart in assignment order.
type Topology struct {
	Domains        uint8
	ChipsPerDomain uint8
	AddrInterval   uint16
}

// Chips returns the chip count of the chain.
func (t Topology) Chips() int {
	return int(t.Domains) * int(t.ChipsPerDomain)
}

// AddrOf returns the bus address of the chip at idx in assignment order.
func (t Topology) AddrOf(idx int) uint8 {
	return uint8(idx * int(t.AddrInterval))
}

// Validate rejects layouts whose last chip address would not fit in the
// one byte address field.
func (t Topology) Validate() error {
	if t.Domains == 0 || t.ChipsPerDomain == 0 || t.AddrInterval == 0 {
		return asic.ErrBadTopology
	}
	if (t.Chips()-1)*int(t.AddrInterval) > 0xFF {
		return asic.ErrBadTopology
	}
	return nil
}

// AddrIntervalFor returns the widest spacing that still places every one
// of chips addresses inside the address byte.
func AddrIntervalFor(chips int) uint16 {
	if chips <= 0 {
		return 0
	}
	return uint16(256 / chips)
}
