package asic

import (
	"errors"
	"math"

	"periph.io/x/conn/v3/physic"
)

var ErrNoDividers = errors.New("ErrNoDividers")

const (
	// crystal reference feeding every PLL
	refClk = 25 * physic.MegaHertz
	// the VCO high range bit is set at and above this rate
	vcoHighThreshold = 2400 * physic.MegaHertz

	pllLocked  uint32 = 1 << 31
	pllEnabled uint32 = 1 << 30
	pllVcoHigh uint32 = 1 << 28

	// divider search accepts a candidate only this close to the target, in MHz
	pllFreqTolerance = 0.001
)

// Pll models one on-chip PLL. The raw parameter word is the canonical
// state, so vendor words with undocumented bits survive a SetParameter/
// Parameter round trip; the field setters recompose the word and keep only
// the lock and enable flags.
//
// Word layout: bit 31 locked, bit 30 enabled, bit 28 VCO high range,
// bits 23:16 feedback divider, bits 15:8 reference divider, bits 7:4
// post divider 1 minus one, bits 3:0 post divider 2 minus one.
type Pll struct {
	word    uint32
	outDivs [8]uint8
	clock   physic.Frequency
}

func (p *Pll) SetParameter(w uint32) *Pll {
	p.word = w
	return p
}

func (p *Pll) Parameter() uint32 {
	return p.word
}

// SetDivider loads the output divider register word; big endian byte 0 is
// tap 0. Taps 4 and up are not covered by the register and keep their
// model values.
func (p *Pll) SetDivider(w uint32) *Pll {
	for i := 0; i < 4; i++ {
		p.outDivs[i] = uint8(w >> (24 - 8*i))
	}
	return p
}

func (p *Pll) Divider() uint32 {
	var w uint32
	for i := 0; i < 4; i++ {
		w |= uint32(p.outDivs[i]) << (24 - 8*i)
	}
	return w
}

func (p *Pll) Lock() *Pll {
	p.word |= pllLocked
	return p
}

func (p *Pll) Unlock() *Pll {
	p.word &^= pllLocked
	return p
}

func (p *Pll) Enable() *Pll {
	p.word |= pllEnabled
	return p
}

func (p *Pll) Disable() *Pll {
	p.word &^= pllEnabled
	return p
}

func (p *Pll) Locked() bool {
	return p.word&pllLocked != 0
}

func (p *Pll) Enabled() bool {
	return p.word&pllEnabled != 0
}

func (p *Pll) FbDiv() uint8 {
	return uint8(p.word >> 16)
}

func (p *Pll) RefDiv() uint8 {
	return uint8(p.word >> 8)
}

func (p *Pll) Post1Div() uint8 {
	return uint8(p.word>>4)&0xF + 1
}

func (p *Pll) Post2Div() uint8 {
	return uint8(p.word)&0xF + 1
}

func (p *Pll) SetInputClock(clk physic.Frequency) *Pll {
	p.clock = clk
	return p
}

func (p *Pll) inputClock() physic.Frequency {
	if p.clock == 0 {
		return refClk
	}
	return p.clock
}

func (p *Pll) vcoAbove(fb, ref uint8) bool {
	if ref == 0 {
		return false
	}
	return p.inputClock()*physic.Frequency(fb)/physic.Frequency(ref) >= vcoHighThreshold
}

// compose rebuilds the canonical word from divider fields, keeping only
// the lock and enable flags of the previous word and recomputing the VCO
// range bit.
func (p *Pll) compose(fb, ref, post1, post2 uint8) {
	w := p.word & (pllLocked | pllEnabled)
	w |= uint32(fb)<<16 | uint32(ref)<<8
	w |= uint32((post1-1)&0xF)<<4 | uint32((post2-1)&0xF)
	if fb != 0 && ref != 0 && p.vcoAbove(fb, ref) {
		w |= pllVcoHigh
	}
	p.word = w
}

func (p *Pll) SetFbDiv(x uint8) *Pll {
	p.compose(x, p.RefDiv(), p.Post1Div(), p.Post2Div())
	return p
}

func (p *Pll) SetRefDiv(x uint8) *Pll {
	p.compose(p.FbDiv(), x, p.Post1Div(), p.Post2Div())
	return p
}

func (p *Pll) SetPost1Div(x uint8) *Pll {
	p.compose(p.FbDiv(), p.RefDiv(), x, p.Post2Div())
	return p
}

func (p *Pll) SetPost2Div(x uint8) *Pll {
	p.compose(p.FbDiv(), p.RefDiv(), p.Post1Div(), x)
	return p
}

func (p *Pll) SetOutDiv(tap int, d uint8) *Pll {
	if tap >= 0 && tap < len(p.outDivs) {
		p.outDivs[tap] = d
	}
	return p
}

func (p *Pll) OutDiv(tap int) uint8 {
	if tap < 0 || tap >= len(p.outDivs) {
		return 0
	}
	return p.outDivs[tap]
}

// Frequency returns the output rate at one tap, zero when the PLL is not
// meaningfully programmed.
func (p *Pll) Frequency(tap int) physic.Frequency {
	if tap < 0 || tap >= len(p.outDivs) {
		return 0
	}
	fb := physic.Frequency(p.FbDiv())
	ref := physic.Frequency(p.RefDiv())
	if fb == 0 || ref == 0 {
		return 0
	}
	div := ref * physic.Frequency(p.Post1Div()) * physic.Frequency(p.Post2Div()) *
		physic.Frequency(uint32(p.outDivs[tap])+1)
	return p.inputClock() * fb / div
}

// SetFrequency runs the hardware divider search for target and programs
// the whole word: locked, enabled, VCO range and all divider fields. The
// PLL is left untouched when no divider combination reaches the target.
func (p *Pll) SetFrequency(target physic.Frequency) error {
	clkMHz := float64(p.inputClock()) / float64(physic.MegaHertz)
	fb, ref, post1, post2, ok := searchDividers(float64(target)/float64(physic.MegaHertz), clkMHz)
	if !ok {
		return ErrNoDividers
	}
	w := pllLocked | pllEnabled
	if p.vcoAbove(uint8(fb), uint8(ref)) {
		w |= pllVcoHigh
	}
	w |= uint32(fb)<<16 | uint32(ref)<<8 | uint32(post1-1)<<4 | uint32(post2-1)
	p.word = w
	return nil
}

// searchDividers walks reference and post divider combinations from the
// slowest clocking to the fastest and keeps the last candidate that hits
// the target while shrinking the post divider product. The feedback
// divider must land in the hardware's stable 0xA0..0xEF band.
func searchDividers(targetMHz, clkMHz float64) (fbdiv, refdiv, postdiv1, postdiv2 int, found bool) {
	bestProd := math.MaxInt32
	bestP2 := math.MaxInt32
	for _, ref := range []int{2, 1} {
		for p1 := 7; p1 >= 1; p1-- {
			for p2 := 7; p2 >= 1; p2-- {
				fb := int(math.Round(targetMHz / clkMHz * float64(ref*p1*p2)))
				if fb < 0xA0 || fb > 0xEF {
					continue
				}
				actual := clkMHz * float64(fb) / float64(ref*p1*p2)
				if math.Abs(targetMHz-actual) >= pllFreqTolerance {
					continue
				}
				if p1 < p2 || p1*p2 >= bestProd || p2 > bestP2 {
					continue
				}
				fbdiv, refdiv, postdiv1, postdiv2 = fb, ref, p1, p2
				bestProd, bestP2 = p1*p2, p2
				found = true
			}
		}
	}
	return
}
