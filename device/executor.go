package device

import (
	"context"
	"errors"
	"time"

	"chainctl/device/asic"
	"chainctl/device/asicio"
	"chainctl/log"
)

var ErrNoChips = errors.New("ErrNoChips")

const (
	// zero bytes pushed before enumeration so every chip is resynced
	enumIdleBytes = 100
	// no reply for this long ends collection
	enumQuiet    = 200 * time.Millisecond
	enumDeadline = 3 * time.Second
	enumPoll     = 10 * time.Millisecond
)

// Executor plays command sequences against one chain.
type Executor struct {
	cio  *asicio.ChainIO
	chip asic.Chip
	brd  uint8
}

func NewExecutor(cio *asicio.ChainIO, chip asic.Chip, brd uint8) *Executor {
	return &Executor{cio: cio, chip: chip, brd: brd}
}

// Run writes each frame in order and then holds for the step delay. The
// delays pace the chips, so writes are synchronous.
func (e *Executor) Run(ctx context.Context, steps []asic.Step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.cio.Write(s.Frame); err != nil {
			return err
		}
		if s.Delay == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	return nil
}

// Enumerate broadcasts a chip identification read and counts the replies.
// Every chip answers in bus order, so collection ends after a quiet window
// with no new frames, or at the deadline. Replies carrying a foreign chip
// id are logged and not counted.
func (e *Executor) Enumerate(ctx context.Context) (int, error) {
	e.cio.ClearReplies()
	if err := e.cio.WriteIdle(enumIdleBytes); err != nil {
		return 0, err
	}
	frame := asicio.PrepareRegRead(asicio.CMD_READ_ALL, 0, asic.ADDR_CHIP_ID)
	if err := e.cio.Write(frame); err != nil {
		return 0, err
	}

	want := uint32(e.chip.ChipID()) << 16
	found := 0
	foreign := 0
	deadline := time.Now().Add(enumDeadline)
	last := time.Now()
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		r := e.cio.PopRegReply()
		if r == nil {
			if found > 0 && time.Since(last) > enumQuiet {
				break
			}
			time.Sleep(enumPoll)
			continue
		}
		last = time.Now()
		if r.Value&0xFFFF0000 != want {
			foreign++
			log.Errorf("Brd %d chip reports id %#08x, want %#04x", e.brd, r.Value, e.chip.ChipID())
			continue
		}
		found++
	}
	if foreign > 0 {
		log.Errorf("Brd %d %d replies with a foreign chip id", e.brd, foreign)
	}
	if found == 0 {
		return 0, ErrNoChips
	}
	log.Infof("Brd %d found %d chips", e.brd, found)
	return found, nil
}
