package device

import (
	"context"
	"errors"
	"sync"

	"chainctl/config"
	"chainctl/device/devhdr"
	"chainctl/device/powerstate"
	"chainctl/log"
	"chainctl/util"
)

const (
	STATUS_ALIVE = iota
	STATUS_SICK
	STATUS_DEAD
	STATUS_NOSTART
	STATUS_INIT
)

func StatusCode(s int) string {
	switch s {
	case STATUS_ALIVE:
		return "Alive"
	case STATUS_SICK:
		return "Sick"
	case STATUS_DEAD:
		return "Dead"
	case STATUS_NOSTART:
		return "NoStart"
	case STATUS_INIT:
		return "Initialising"
	default:
		return "Dead"
	}
}

// bound on nonces drained per Run call so one busy chain cannot starve
// the others
const pollBatchMax = 256

// ChipStats counts results per decoded chip address.
type ChipStats struct {
	Hits     uint64
	LastSeen float64
}

// Device is one chain of one hash board plus its runtime counters. The
// mutex guards the counters, which the API reads concurrently.
type Device struct {
	ID      uint
	SlotId  uint32
	ChainId uint32
	Name    string
	Enabled bool
	Status  int
	UpSince float64

	Board *HashBoard

	mu            sync.Mutex
	hits          uint64
	lastHit       NonceHit
	lastMessageTS float64
	chips         map[int]*ChipStats
}

func (my *Device) Uptime() float64 {
	return util.UptimeInSec(util.NowInSec(), my.UpSince)
}

var ErrBoardInitFailure = errors.New("ErrBoardInitFailure")

// Init powers the board, opens its chain and runs the bring-up flow.
// A board that is not present stays NOSTART; any bring-up failure marks
// it DEAD and disables it.
func (my *Device) Init(ctx context.Context, cfg config.ChainConfig) error {
	my.Status = STATUS_INIT
	my.UpSince = util.NowInSec()
	my.chips = make(map[int]*ChipStats)

	present, err := powerstate.HbIsPresent(int(my.SlotId))
	if err != nil {
		// no presence gpio on bench setups, assume plugged
		log.Infof("Board %d presence unknown: %v", my.SlotId, err)
	} else if !present {
		log.Errorf("Board %d not present", my.SlotId)
		my.Enabled = false
		my.Status = STATUS_NOSTART
		return ErrBoardInitFailure
	}

	if devhdr.GetHashBoardPowerSupport() {
		if err = powerstate.HbPowerOn(int(my.SlotId)); err != nil {
			log.Errorf("Board %d power on failed: %v", my.SlotId, err)
			my.Enabled = false
			my.Status = STATUS_DEAD
			return ErrBoardInitFailure
		}
	}

	uartName := devhdr.GetUartNameFromIds(my.SlotId, my.ChainId)
	hb, err := NewHashBoard(uint8(my.SlotId), uartName, cfg)
	if err != nil {
		log.Errorf("Board %d bad chain profile: %v", my.SlotId, err)
		my.Enabled = false
		my.Status = STATUS_DEAD
		return ErrBoardInitFailure
	}

	if err = hb.Open(); err != nil {
		log.Errorf("Board %d cannot open %s: %v", my.SlotId, uartName, err)
		my.Enabled = false
		my.Status = STATUS_DEAD
		return ErrBoardInitFailure
	}

	if err = hb.BringUp(ctx); err != nil {
		log.Errorf("Board %d bring-up failed: %v", my.SlotId, err)
		_ = hb.Close()
		my.Enabled = false
		my.Status = STATUS_DEAD
		return ErrBoardInitFailure
	}

	my.Board = hb
	my.Enabled = true
	my.Status = STATUS_ALIVE
	log.Infof("Board %d chain %d is alive on %s, %d chips", my.SlotId, my.ChainId, uartName, hb.Found())
	return nil
}

// Run drains pending results. Reports whether any arrived so the manager
// loop can skip its idle sleep.
func (my *Device) Run() bool {
	if !my.Enabled || my.Board == nil {
		return false
	}

	hasWork := false
	for n := 0; n < pollBatchMax; n++ {
		hit := my.Board.PollNonce()
		if hit == nil {
			break
		}
		hasWork = true
		my.noteHit(hit)
	}
	return hasWork
}

func (my *Device) noteHit(hit *NonceHit) {
	my.mu.Lock()
	defer my.mu.Unlock()

	now := util.NowInSec()
	my.hits++
	my.lastHit = *hit
	my.lastMessageTS = now

	if my.chips == nil {
		my.chips = make(map[int]*ChipStats)
	}
	cs := my.chips[hit.ChipAddr]
	if cs == nil {
		cs = &ChipStats{}
		my.chips[hit.ChipAddr] = cs
	}
	cs.Hits++
	cs.LastSeen = now

	log.Debugf("Board %d chip %d core %d.%d nonce %08x version %08x job %d",
		my.SlotId, hit.ChipAddr, hit.Core, hit.SmallCore, hit.Nonce, hit.Version, hit.JobId)
}

// SetFrequency ramps the chain at runtime.
func (my *Device) SetFrequency(ctx context.Context, mhz float64) error {
	if my.Board == nil {
		return ErrBoardInitFailure
	}
	return my.Board.SetFrequency(ctx, mhz)
}

func (my *Device) EnableVersionRolling(ctx context.Context, mask uint32) error {
	if my.Board == nil {
		return ErrBoardInitFailure
	}
	return my.Board.EnableVersionRolling(ctx, mask)
}

// DeviceSnapshot is a consistent copy of the counters for the API.
type DeviceSnapshot struct {
	ID        uint
	Name      string
	Status    string
	Uptime    float64
	Chips     int
	Hits      uint64
	LastHit   NonceHit
	LastSeen  float64
	ChipStats map[int]ChipStats
	RxFrames  uint64
	RxBad     uint64
	TxFrames  uint64
}

func (my *Device) Snapshot() DeviceSnapshot {
	my.mu.Lock()
	defer my.mu.Unlock()

	s := DeviceSnapshot{
		ID:        my.ID,
		Name:      my.Name,
		Status:    StatusCode(my.Status),
		Uptime:    my.Uptime(),
		Hits:      my.hits,
		LastHit:   my.lastHit,
		LastSeen:  my.lastMessageTS,
		ChipStats: make(map[int]ChipStats, len(my.chips)),
	}
	for addr, cs := range my.chips {
		s.ChipStats[addr] = *cs
	}
	if my.Board != nil {
		s.Chips = my.Board.Found()
		s.RxFrames, s.RxBad, s.TxFrames = my.Board.IOStats()
	}
	return s
}

func (my *Device) Close() {
	my.Enabled = false
	if my.Board != nil {
		_ = my.Board.Close()
	}
}
