package asic

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestSetFrequencyDividerSearch(t *testing.T) {
	tests := []struct {
		target physic.Frequency
		want   uint32
	}{
		{50 * physic.MegaHertz, 0xC0A80265},
		{56250 * physic.KiloHertz, 0xC0A20255},
		{62500 * physic.KiloHertz, 0xC0AF0264},
		{68750 * physic.KiloHertz, 0xC0A50254},
		{75 * physic.MegaHertz, 0xC0A80263},
		{100 * physic.MegaHertz, 0xC0A80262},
		{200 * physic.MegaHertz, 0xC0A00241},
		{400 * physic.MegaHertz, 0xC0A00240},
		{425 * physic.MegaHertz, 0xC0AA0240},
		{490 * physic.MegaHertz, 0xD0C40240},
	}
	for _, tc := range tests {
		var p Pll
		if err := p.SetFrequency(tc.target); err != nil {
			t.Errorf("SetFrequency(%s): %v", tc.target, err)
			continue
		}
		if got := p.Parameter(); got != tc.want {
			t.Errorf("SetFrequency(%s) = %#08x, want %#08x", tc.target, got, tc.want)
		}
	}
}

func TestSetFrequencyNoDividers(t *testing.T) {
	var p Pll
	p.SetParameter(0xC0540165)
	err := p.SetFrequency(43750 * physic.KiloHertz)
	if !errors.Is(err, ErrNoDividers) {
		t.Fatalf("err %v, want ErrNoDividers", err)
	}
	if p.Parameter() != 0xC0540165 {
		t.Fatalf("failed search touched the word: %#08x", p.Parameter())
	}
}

func TestParameterRoundTrip(t *testing.T) {
	// vendor words with undocumented bits must survive untouched
	for _, w := range []uint32{0x20500174, 0x5AA55AA5, 0xC0540165} {
		var p Pll
		if got := p.SetParameter(w).Parameter(); got != w {
			t.Errorf("round trip %#08x: got %#08x", w, got)
		}
	}
}

func TestDividerRoundTrip(t *testing.T) {
	var p Pll
	p.SetDivider(0x03040607)
	if got := p.Divider(); got != 0x03040607 {
		t.Fatalf("divider round trip: %#08x", got)
	}
	if p.OutDiv(0) != 3 || p.OutDiv(1) != 4 || p.OutDiv(2) != 6 || p.OutDiv(3) != 7 {
		t.Fatalf("taps %d %d %d %d", p.OutDiv(0), p.OutDiv(1), p.OutDiv(2), p.OutDiv(3))
	}
	// taps past the register window keep their model values
	p.SetOutDiv(4, 6)
	p.SetDivider(0x00000000)
	if p.OutDiv(4) != 6 {
		t.Fatalf("tap 4 lost: %d", p.OutDiv(4))
	}
}

func TestFieldSettersRecompose(t *testing.T) {
	// lifting the UART PLL to 2.8 GHz keeps lock and enable, drops the
	// training pattern bits and raises the VCO range bit
	var p Pll
	p.SetParameter(0x5AA55AA5)
	p.Lock().Enable().SetFbDiv(112).SetRefDiv(1).SetPost1Div(1).SetPost2Div(1)
	if got := p.Parameter(); got != 0xD0700100 {
		t.Fatalf("recomposed word %#08x, want 0xd0700100", got)
	}
	if !p.Locked() || !p.Enabled() {
		t.Fatal("lock/enable flags lost")
	}
	if p.FbDiv() != 112 || p.RefDiv() != 1 || p.Post1Div() != 1 || p.Post2Div() != 1 {
		t.Fatalf("fields %d %d %d %d", p.FbDiv(), p.RefDiv(), p.Post1Div(), p.Post2Div())
	}
}

func TestFrequency(t *testing.T) {
	var p Pll
	p.SetParameter(0xC0540165)
	if got := p.Frequency(0); got != 50*physic.MegaHertz {
		t.Fatalf("hash pll frequency %s, want 50MHz", got)
	}
	// an unprogrammed pll reports zero rather than dividing by zero
	var zero Pll
	if got := zero.Frequency(0); got != 0 {
		t.Fatalf("unprogrammed frequency %s", got)
	}
	if got := p.Frequency(len(p.outDivs)); got != 0 {
		t.Fatalf("out of range tap frequency %s", got)
	}
}
