package temperature

import (
	"time"

	"chainctl/device/devhdr"
	"chainctl/device/powerstate"
	"chainctl/device/smbus"
	"chainctl/log"
)

const (
	CB_TEMP_BUS      = 4 // Control board sensor and eeprom
	HB_TEMP_BUS_BASE = 1 // Hash board buses are base + board - 1
)

const (
	ADDR_TEMP_SENSOR = 0x48
)

const (
	TEMP_MONITOR_INTERVAL_SEC = 5 // Seconds between polling
)

const (
	CB_HIGH_TEMP = 75
	HB_HIGH_TEMP = 100
)

const (
	HB_SENSORS = 5
)

var HbTempDesc = []string{
	"Inlet Middle",   // 0x49
	"Inlet Bottom",   // 0x4a
	"Inlet Top",      // 0x4b
	"Exhaust Middle", // 0x4c
	"Exhaust Top",    // 0x4f
}

func getTempAddrHB() []uint8 {
	return []uint8{0x49, 0x4a, 0x4b, 0x4c, 0x4f}
}

var (
	cbTempAlarm     = false
	hbTempAlarm     [devhdr.MaxHashBoards]bool
	prevCbTempAlarm = false
	prevHbTempAlarm [devhdr.MaxHashBoards]bool
	hbMask          uint32
	hbTempFailures  [devhdr.MaxHashBoards][HB_SENSORS]int // First index is HB number, second index is sensor number
)

// decodeTemp converts a TMP75 style register 0 value. Byte 0 is the
// signed integer part, byte 1 the fraction.
func decodeTemp(msb, lsb uint8) float64 {
	return float64(int8(msb)) + float64(lsb)/256
}

func readTemp(bus int, addr uint8) (v float64, err error) {
	v = 0
	sensor, err := smbus.Open(bus, addr)
	if err != nil {
		return
	}

	temp, err := sensor.ReadN(addr, 0, 2)
	sensor.Close()

	if err != nil {
		return
	}

	return decodeTemp(temp[0], temp[1]), nil
}

func ReadCBTemp() (v float64, err error) {
	return readTemp(CB_TEMP_BUS, ADDR_TEMP_SENSOR)
}

// boardNo starts from 1
func ReadHBTemps(boardNo int) (v []float64) {

	addrs := getTempAddrHB()
	for ii, a := range addrs {
		t, err := readTemp(HB_TEMP_BUS_BASE+boardNo-1, a)
		if err != nil {
			hbTempFailures[boardNo-1][ii]++
			if hbTempFailures[boardNo-1][ii] < 2 || hbTempFailures[boardNo-1][ii]%100 == 0 { // Don't spam the log
				log.Errorf("Error reading Hash Board %d temperature sensor 0x%02x: %s\n", boardNo, a, err)
			}
		} else {
			hbTempFailures[boardNo-1][ii] = 0
		}
		v = append(v, t)
	}
	return v

}

func TempTooHigh() bool {

	if cbTempAlarm {
		return true
	}

	for ii := 0; ii < int(devhdr.GetHashBoardCount()); ii++ {
		if hbTempAlarm[ii] {
			return true
		}
	}

	return false
}

func Init() {
	for ii := 0; ii < int(devhdr.GetHashBoardCount()); ii++ {
		present, _ := powerstate.HbIsPresent(ii + 1)
		if present {
			hbMask |= 1 << uint(ii)
		}
	}

	temperatureMonitor()

}

func temperatureMonitor() {

	go func() {
		var temperature float64
		var hbTemps []float64
		var err error

		for { //ever
			prevCbTempAlarm = cbTempAlarm
			for ii := 0; ii < int(devhdr.GetHashBoardCount()); ii++ {
				prevHbTempAlarm[ii] = hbTempAlarm[ii]
			}

			cbTempAlarm = false
			temperature, err = ReadCBTemp()
			if err != nil {
				log.Errorf("Error reading Control Board temperature: %s\n", err)
			}
			if temperature >= CB_HIGH_TEMP {
				cbTempAlarm = true    // Need hysteresis check?
				if !prevCbTempAlarm { // Spam control
					log.Errorf("ALARM: Control Board temperature %.2fC is above limit %.2fC\n", temperature, float32(CB_HIGH_TEMP))
				}
			}

			for ii := 1; ii <= int(devhdr.GetHashBoardCount()); ii++ {
				if hbMask&(1<<uint(ii-1)) != 0 { // Only check for installed HBs
					hbTempAlarm[ii-1] = false // Need hysteresis check?
					hbTemps = ReadHBTemps(ii)
					for jj := 1; jj <= HB_SENSORS; jj++ {
						if hbTemps[jj-1] >= HB_HIGH_TEMP {
							hbTempAlarm[ii-1] = true
							if !prevHbTempAlarm[ii-1] {
								log.Errorf("ALARM: Hash Board %d sensor %d temperature %.2fC is above limit %.2fC\n", ii, jj, hbTemps[jj-1], float32(HB_HIGH_TEMP))
							}
						}
					}
				}

			}

			if TempTooHigh() {
				powerstate.SystemPowerOff(true)
			}

			time.Sleep(TEMP_MONITOR_INTERVAL_SEC * time.Second)
		}
	}()

}
