package asic

import (
	"time"

	"chainctl/device/asicio"
)

// Step is one element of a command sequence: a complete wire frame and the
// pause the chain needs after it.
type Step struct {
	Frame []byte
	Delay time.Duration
}

const (
	initStepDelay  = 10 * time.Millisecond
	resetStepDelay = 10 * time.Millisecond
	vrStepDelay    = 1 * time.Millisecond

	condShortDelay = 20 * time.Millisecond
	condLongDelay  = 100 * time.Millisecond

	rampStepDelay = 400 * time.Millisecond
	rampLongDelay = 2300 * time.Millisecond
)

type sequence struct {
	steps []Step
}

func (s *sequence) add(frame []byte, delay time.Duration) {
	s.steps = append(s.steps, Step{Frame: frame, Delay: delay})
}

func (s *sequence) bcastWrite(reg uint8, val uint32, delay time.Duration) {
	s.add(asicio.PrepareRegWrite(asicio.CMD_WRITE_ALL, 0, reg, val), delay)
}

func (s *sequence) chipWrite(chip uint8, reg uint8, val uint32, delay time.Duration) {
	s.add(asicio.PrepareRegWrite(asicio.CMD_WRITE_ONE, chip, reg, val), delay)
}

func (s *sequence) chainInactive(delay time.Duration) {
	s.add(asicio.PrepareChainInactive(), delay)
}

func (s *sequence) setChipAddr(addr uint8, delay time.Duration) {
	s.add(asicio.PrepareSetChipAddr(addr), delay)
}
