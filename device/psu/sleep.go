package psu

import (
	"fmt"
	"time"

	"chainctl/log"
)

const (
	// reevaluate system state while in low power mode
	LP_REFRESH = 1 * time.Second
	// min duration between two low power mode changes
	LP_CHANGE_DURATION = 5 * time.Second
	// max fan speed setting allowed in low power mode
	LP_MAX_FAN_SPEED = 1000
	// max PSU temperature allowed in low power mode
	LP_MAX_TEMP = 60.
	// max power output demand allowed in low power mode, watts
	LP_MAX_PWR_OUT = 30.
)

// LowPowerMode tracks the PSU sleep state.
type LowPowerMode struct {
	isLowPower bool
	lastChange time.Time
}

var lowPower *LowPowerMode

func init() {
	lowPower = new(LowPowerMode)
}

// SetSleep moves the PSU in or out of low power mode and arms the monitor.
// Only the CP family implements the sleep register.
func SetSleep(on bool) {

	if psuAddr != cpPsuAddr {
		log.Infof("PSU does not support sleep, skipping")
		return
	}

	if on {
		if err := lowPower.SetLowPower(); err != nil {
			log.Errorf("Failed to set low power mode: %v", err)
		}
	} else { // Normal power is the safe state.
		if err := lowPower.SetNormalPower(); err != nil {
			log.Errorf("Failed to set normal power mode: %v", err)
		}
	}

	go lowPower.Mon()
}

// IsLowPower rereads the sleep register and returns the current state.
func IsLowPower() bool {
	lowPower.isLowPower = getSleepReg()
	return lowPower.isLowPower
}

// Mon watches the system while sleeping and forces normal power as soon
// as the low power requirements no longer hold.
func (lp *LowPowerMode) Mon() {
	for {

		if !IsLowPower() { // woken up elsewhere, nothing to watch
			return
		}

		if !lp.checkSystem() {
			if err := lp.SetNormalPower(); err != nil {
				log.Errorf("Failed to set normal power mode: %v", err)
			}
			return
		}

		time.Sleep(LP_REFRESH)
	}
}

// SetLowPower enters low power mode, provided the system qualifies.
func (lp *LowPowerMode) SetLowPower() error {

	if IsLowPower() {
		log.Infof("Already in low power mode")
		return nil
	}

	// rate limit mode flips, the PSU firmware dislikes them
	if time.Since(lp.lastChange) < LP_CHANGE_DURATION {
		log.Infof("Last changed at %v", lp.lastChange)
		return fmt.Errorf("low power mode change too frequent")
	}

	if !lp.checkSystem() {
		return fmt.Errorf("system does not satisfy low power mode requirements")
	}

	setSleepReg(true)
	lp.isLowPower = true
	lp.lastChange = time.Now()
	log.Infof("PSU is now in low power mode")
	return nil
}

// SetNormalPower leaves low power mode. Normal power is the safe state,
// so this is never rate limited.
func (lp *LowPowerMode) SetNormalPower() error {

	if !IsLowPower() {
		log.Infof("Already in normal power mode")
		return nil
	}

	setSleepReg(false)
	lp.isLowPower = false
	lp.lastChange = time.Now()
	log.Infof("PSU is now in normal power mode")
	return nil
}

// checkSystem verifies the demand on the PSU is low enough for sleep.
func (lp *LowPowerMode) checkSystem() bool {
	psud, err := GetPsuStatus(false)
	if err != nil {
		log.Errorf("PSU ERROR: GetPsuStatus returned %s", err)
		return false
	}

	ok := psud.FanSpeedSet <= LP_MAX_FAN_SPEED
	ok = ok && psud.Temp1 <= LP_MAX_TEMP
	ok = ok && psud.Temp2 <= LP_MAX_TEMP
	ok = ok && psud.PowerOut <= LP_MAX_PWR_OUT

	if !ok {
		log.Infof("System does not satisfy low power mode requirements")
		log.Infof("FanSpeedSet: %v", psud.FanSpeedSet)
		log.Infof("Temp1: %v", psud.Temp1)
		log.Infof("Temp2: %v", psud.Temp2)
		log.Infof("PowerOut: %v", psud.PowerOut)
	}

	return ok
}
