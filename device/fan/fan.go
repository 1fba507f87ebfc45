package fan

import (
	"fmt"
	"os"
	"time"

	"chainctl/device/devhdr"
	"chainctl/log"
)

const (
	NUM_FANS                 = 4
	FAN_MONITOR_INTERVAL_SEC = 5

	// Roughly 14% of full speed. Anything slower means a stuck or
	// missing fan.
	fanSpeedMin = 1000
)

var (
	fanAlarm  [NUM_FANS]bool
	pollCount uint
	fanSpeed  [NUM_FANS]uint32
	pwmPins   = make(map[int]*pwmPin)
)

// addFan registers a PWM controlled fan. Index is the handle for the
// other APIs.
func addFan(index int, ctrlChip int, ctrlChannel int, tachoPin int) (err error) {
	pin := newPwmPin(ctrlChip, ctrlChannel)

	if err = pin.Export(); err != nil {
		return
	}

	// control pin needs a fixed PWM frequency of 25kHz
	if err = pin.SetPeriod(40000); err != nil {
		return
	}

	// half speed until the monitor takes over
	if err = pin.SetDutyCycle(20000); err != nil {
		return
	}

	if err = pin.Enable(true); err != nil {
		return
	}

	addTacho(index, tachoPin)
	pwmPins[index] = pin

	return nil
}

// FansOff stops every fan. Only for standby, never while hash power is
// on.
func FansOff() {
	for i := 0; i < NUM_FANS; i++ {
		fanSpeed[i] = 0
		_ = pwmPins[i].SetDutyCyclePercent(0)
	}
}

func MaxOn() {
	for i := 0; i < NUM_FANS; i++ {
		fanSpeed[i] = 100
		_ = pwmPins[i].SetDutyCyclePercent(100)
	}
}

// SetSpeed sets fan index to percent of full scale. With guard set the
// call refuses to slow the fan down; callers pass it while hash power is
// on.
func SetSpeed(index int, percent uint32, guard bool) (bool, error) {
	pin := pwmPins[index]
	if pin == nil {
		return false, fmt.Errorf("invalid fan index %d", index)
	}

	if guard && percent < GetSpeed(index) {
		log.Warnf("Fan %d speed reduction to %d%% refused, hash power is on", index+1, percent)
		return true, nil
	}

	fanSpeed[index] = percent
	return false, pin.SetDutyCyclePercent(percent)
}

// GetSpeed returns the commanded speed of fan index in percent.
func GetSpeed(index int) uint32 {
	pin := pwmPins[index]
	if pin == nil {
		log.Errorf("invalid fan index %d", index)
		return 0
	}

	speed, err := pin.GetDutyCyclePercent()
	if err != nil {
		log.Errorf("GetDutyCyclePercent returned %s", err)
		return 0
	}
	return speed
}

func FanAlarmState() bool {
	for ii := 0; ii < NUM_FANS; ii++ {
		if fanAlarm[ii] {
			return true
		}
	}
	return false
}

func startFanMon() {
	go func() {
		for {
			pollCount++
			for ii := 0; ii < NUM_FANS; ii++ {
				rpm := GetRPM(ii)

				if pollCount <= 1 { // first poll is always 0
					continue
				}
				if rpm < fanSpeedMin {
					if !fanAlarm[ii] { // only alert the first time
						log.Errorf("ALARM: Fan %d speed %d RPM is below threshold %d RPM poll %d", ii+1, rpm, fanSpeedMin, pollCount)
					}
					fanAlarm[ii] = true
				} else {
					if fanAlarm[ii] {
						log.Infof("Fan %d speed %d RPM is back above threshold %d poll %d", ii+1, rpm, fanSpeedMin, pollCount)
					}
					fanAlarm[ii] = false
				}
			}

			time.Sleep(FAN_MONITOR_INTERVAL_SEC * time.Second)
		}
	}()
}

var Count = 0

func Init() {
	var fans = []struct {
		ctrlChip    int
		ctrlChannel int
		tachoPin    int
	}{{2, 0, 4}, {3, 0, 5}, {0, 0, 2}, {1, 0, 3}}

	_ = os.Mkdir(devhdr.FanFileDir, os.ModeDir)

	Count = len(fans)

	for i := 0; i < Count; i++ {
		err := addFan(i, fans[i].ctrlChip, fans[i].ctrlChannel, fans[i].tachoPin)
		if err != nil {
			log.Errorf("err init fan %d: %s", i, err)
			continue
		}
	}

	startTacho()
	startFanMon()
}
