package powerstate

import (
	"errors"
	"time"

	"gobot.io/x/gobot/sysfs"

	"chainctl/device/devhdr"
	"chainctl/device/fan"
	"chainctl/device/psu"
	"chainctl/log"
)

var alarmShutdown bool = false

// CPU side PSU detect pins, one per slot. These read back whether hash
// VDD actually came up.
var hbPowerDetectGpio = map[int]int{
	1: 335,
	2: 346,
	3: 347,
}

var hbPowerIsOn [devhdr.MaxHashBoards]bool
var hbResetIsOn [devhdr.MaxHashBoards]bool

const INTER_BOARD_DELAY = 500 // msec between touching hash board rails

var ErrBadBoardId = errors.New("ErrBadBoardId")

func writeGpio(num, value int) {
	pin := sysfs.NewDigitalPin(num)
	_ = pin.Export()
	_ = pin.Direction("out")
	_ = pin.Write(value)
	_ = pin.Unexport()
}

func readGpio(num int) (int, error) {
	pin := sysfs.NewDigitalPin(num)
	_ = pin.Export()
	_ = pin.Direction("in")
	defer func() {
		_ = pin.Unexport()
	}()
	return pin.Read()
}

// SystemPowerOff drops every hash board rail and the PSU. alarm records
// whether this was a protective shutdown.
func SystemPowerOff(alarm bool) {
	alarmShutdown = alarm

	log.Error("SystemPowerOff: Powering down system")
	for ii := 1; ii <= int(devhdr.GetTotalChainCount()); ii++ {
		_ = HbPowerOff(ii)
		_ = HbReset(ii)
	}
	psu.PsuOff()
}

// SystemUnreset takes every hash board chain out of reset.
func SystemUnreset() {
	alarmShutdown = false

	log.Infof("System: Taking hash boards out of reset")
	for ii := 1; ii <= int(devhdr.GetTotalChainCount()); ii++ {
		_ = HbUnreset(ii)
	}
	time.Sleep(time.Second) // settle before touching the bus
}

func IsSysAlarmOff() bool {
	return !alarmShutdown
}

// HbPowerIsOn reports whether any hash board rail is up. Fan control uses
// this to keep a floor under the fan speed.
func HbPowerIsOn() (bool, error) {
	if !devhdr.GetHashBoardPowerSupport() {
		return true, nil
	}

	for hb := 1; hb <= int(devhdr.GetHashBoardCount()); hb++ {
		value, err := readGpio(hbPowerDetectGpio[hb])
		if err != nil {
			return true, err // assume power to be safe
		}
		if value == 1 {
			return true, nil
		}
	}
	return false, nil
}

func HbPowerOn(hb int) error {
	if hb < 1 || hb > int(devhdr.GetHashBoardCount()) { // hb is 1-based
		log.Errorf("HbPowerOn: invalid HB parameter %d", hb)
		return ErrBadBoardId
	}

	log.Infof("HbPowerOn board %d: Turning all fans on to 100%%", hb)
	for ii := 0; ii < fan.NUM_FANS; ii++ {
		_, _ = fan.SetSpeed(ii, 100, false)
		time.Sleep(time.Second) // spread the inrush current
	}

	time.Sleep(INTER_BOARD_DELAY * time.Millisecond)

	writeGpio(devhdr.GetHashBoardPowerSysfsValue(uint(hb)), 1)
	hbPowerIsOn[hb-1] = true
	return nil
}

func HbPowerOff(hb int) error {
	if !devhdr.GetHashBoardPowerSupport() {
		return nil
	}
	if hb < 1 || hb > int(devhdr.GetHashBoardCount()) {
		log.Errorf("HbPowerOff: invalid HB parameter %d", hb)
		return ErrBadBoardId
	}

	time.Sleep(INTER_BOARD_DELAY * time.Millisecond)

	log.Infof("HbPowerOff board %d", hb)
	writeGpio(devhdr.GetHashBoardPowerSysfsValue(uint(hb)), 0)
	hbPowerIsOn[hb-1] = false
	return nil
}

func HbReset(hb int) error {
	if hb < 1 || hb > int(devhdr.GetTotalChainCount()) {
		log.Errorf("HbReset: invalid HB parameter %d", hb)
		return ErrBadBoardId
	}

	// Never assert reset while hash VDD is enabled. The board has HW
	// logic for this, but make extra sure in SW as well.
	if devhdr.GetHashBoardPowerSupport() && hbPowerIsOn[hb-1] {
		log.Errorf("CANNOT put HB %d in reset; HB power is on", hb)
		return errors.New("invalid HB reset operation")
	}

	log.Infof("HbReset board %d", hb)
	writeGpio(devhdr.GetHashBoardResetSysfsValue(uint(hb)), 0) // RESET_L, 0 asserts
	hbResetIsOn[hb-1] = true
	return nil
}

func HbUnreset(hb int) error {
	if hb < 1 || hb > int(devhdr.GetTotalChainCount()) {
		log.Errorf("HbUnreset: invalid HB parameter %d", hb)
		return ErrBadBoardId
	}

	log.Infof("HbUnreset board %d", hb)
	writeGpio(devhdr.GetHashBoardResetSysfsValue(uint(hb)), 1) // RESET_L, 1 releases
	hbResetIsOn[hb-1] = false
	return nil
}

func HbIsPresent(hb int) (bool, error) {
	if hb < 1 || hb > int(devhdr.GetTotalChainCount()) {
		log.Errorf("HbIsPresent: invalid HB parameter %d", hb)
		return false, ErrBadBoardId
	}

	value, err := readGpio(devhdr.GetHashBoardPresenceSysfsValue(uint(hb)))
	if err != nil {
		return false, err
	}
	// asserted low, 1 means no board in the slot
	if value == 1 {
		return false, nil
	}
	return true, nil
}

func HbThermalTripAsserted(hb int) (bool, error) {
	if hb < 1 || hb > int(devhdr.GetTotalChainCount()) {
		log.Errorf("HbThermalTripAsserted: invalid HB parameter %d", hb)
		return false, ErrBadBoardId
	}

	value, err := readGpio(devhdr.GetThermalTripSysfsValue(uint(hb)))
	if err != nil {
		return false, err
	}
	log.Debugf("ThermalTrip value board %v %v %v", hb, devhdr.GetThermalTripSysfsValue(uint(hb)), value)
	// asserted low, 1 means no thermal trip
	if value == 1 {
		return false, nil
	}
	return true, nil
}
