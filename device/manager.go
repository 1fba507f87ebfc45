package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"chainctl/config"
	"chainctl/device/devhdr"
	"chainctl/device/fan"
	"chainctl/device/powerstate"
	"chainctl/device/psu"
	"chainctl/device/temperature"
	"chainctl/log"
	"chainctl/util"
)

const (
	idleSleep      = 40 * time.Millisecond
	healthInterval = 5 * time.Second
	finiTimeout    = 3 * time.Second
)

var ErrDevNotExist = errors.New("not exist")

type DeviceManager struct {
	// BoardChainMap maps a chain id to its device
	BoardChainMap map[uint]*Device
	// BoardMap maps a physical board to its chains
	BoardMap map[uint32][]*Device
	// BoardChainCount total number of independent chains in the chassis
	BoardChainCount uint
	// BoardCount total number of physical boards in the chassis
	BoardCount uint

	cfg     *config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	bExit   bool
	done    chan struct{}
	startTS float64
}

func NewDeviceManager(cfg *config.Config) *DeviceManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceManager{
		BoardChainMap: make(map[uint]*Device),
		BoardMap:      make(map[uint32][]*Device),
		cfg:           cfg,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		startTS:       util.NowInSec(),
	}
}

func (my *DeviceManager) InitBoard(board *Device) {
	err := board.Init(my.ctx, my.cfg.Chain)
	if err != nil {
		log.Infof("board id (%v): %v", board.ID, err)
	}
	my.BoardChainMap[board.ID] = board
	my.BoardMap[board.SlotId] = append(my.BoardMap[board.SlotId], board)
}

// Init brings the chassis to a known state and starts the device loop.
func (my *DeviceManager) Init() {
	psu.SetPsuType()
	powerstate.SystemPowerOff(false) // Make sure system is in a clean state
	time.Sleep(time.Second * 2)
	psu.SetSleep(false)
	time.Sleep(time.Second * 2)
	fan.Init()
	log.Info("Starting fans")
	fan.MaxOn()

	go func() {
		if err := my.Run(); err != nil {
			log.Errorf("err %v", err)
		}
	}()
}

func (my *DeviceManager) Run() error {
	defer close(my.done)

	psu.PreInit()
	psu.Init()
	time.Sleep(2 * time.Second) // Give the ASICs some time to power on

	powerstate.SystemUnreset()

	id := uint(0)
	for _, hb := range devhdr.HashBoards() {
		if hb.Disabled {
			log.Infof("Board %d chain %d disabled in chassis config", hb.Board, hb.Chain)
			continue
		}
		brd := &Device{
			ID:      id,
			SlotId:  uint32(hb.Board),
			ChainId: uint32(hb.Chain),
			Name:    fmt.Sprintf("hb%d.%d", hb.Board, hb.Chain),
		}
		my.InitBoard(brd)
		id++
	}
	my.BoardChainCount = id
	my.BoardCount = uint(len(my.BoardMap))

	temperature.Init()

	lastHealth := time.Now()
	for {
		if my.bExit {
			break
		}

		hasWork := false
		for i := uint(0); i < my.BoardChainCount; i++ {
			dev, ok := my.BoardChainMap[i]
			if !ok {
				continue
			}
			if !dev.Enabled {
				continue
			}
			if dev.Run() {
				hasWork = true
			}
		}

		if time.Since(lastHealth) >= healthInterval {
			my.checkHealth()
			lastHealth = time.Now()
		}

		if !hasWork {
			time.Sleep(idleSleep)
		}
	}

	for _, dev := range my.BoardChainMap {
		dev.Close()
	}
	return nil
}

// checkHealth polls the thermal trip lines. A tripped board takes the
// whole system down, the trip only fires past the point where throttling
// could help.
func (my *DeviceManager) checkHealth() {
	for _, dev := range my.BoardChainMap {
		if !dev.Enabled {
			continue
		}
		tripped, err := powerstate.HbThermalTripAsserted(int(dev.SlotId))
		if err != nil {
			continue
		}
		if tripped {
			log.Errorf("Board %d thermal trip asserted, system power off", dev.SlotId)
			dev.Status = STATUS_SICK
			powerstate.SystemPowerOff(true)
			return
		}
	}
}

// Fini stops the device loop, closes the chains and puts the chassis to
// sleep.
func (my *DeviceManager) Fini() {
	my.bExit = true
	my.cancel()

	select {
	case <-my.done:
	case <-time.After(finiTimeout):
		log.Error("device loop did not stop in time")
	}

	powerstate.SystemPowerOff(false)
	psu.SetSleep(true)
	fan.FansOff()
}

// Devices lists the chains in id order.
func (my *DeviceManager) Devices() []*Device {
	devs := make([]*Device, 0, len(my.BoardChainMap))
	for _, d := range my.BoardChainMap {
		devs = append(devs, d)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs
}

func (my *DeviceManager) Device(id uint) *Device {
	return my.BoardChainMap[id]
}

// Context is the lifetime of the device loop. Runtime commands issued on
// behalf of API clients run under it.
func (my *DeviceManager) Context() context.Context {
	return my.ctx
}

// Uptime is seconds since the manager was created.
func (my *DeviceManager) Uptime() float64 {
	return util.UptimeInSec(util.NowInSec(), my.startTS)
}
