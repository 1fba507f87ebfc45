package psu

import (
	"container/list"
	"errors"
	"math"
	"sync"
	"time"

	"chainctl/device/devhdr"
	"chainctl/device/smbus"
	"chainctl/log"
)

const psuStrLen = 16
const psuBus = 5

// Bus addresses of the supported models. The CP family carries two AC
// inputs and a sleep register, the AP family has neither.
const cpPsuAddr = 0x10
const apPsuAddr = 0x58

var (
	MinerVoutMin  float32 = 11.0
	MinerVoutMax  float32 = 15.0
	MinerPowerMax float32
	singleInput   bool
	psuRetries    int = 2
)

const PSU_MONITOR_INTERVAL_MS = 1000
const singleInputMaxPower = 3400.0 // Watts

var psuMutex sync.Mutex
var psuAddr = uint8(cpPsuAddr)

var (
	poweredOn         bool = false
	poweredOnMu       sync.Mutex
	psuAlarm          bool  = false // PSU tripped
	vIn2Alarm         bool  = false // 2nd CP input is low or not there
	vOutStatus              = uint8(0)
	vOutAlarm         bool  = false
	iOutStatus              = uint8(0)
	iOutAlarm         bool  = false
	inputStatus             = uint8(0)
	inputAlarm        bool  = false
	temperatureStatus       = uint8(0)
	temperatureAlarm  bool  = false
	fanStatus               = uint8(0)
	fanAlarm          bool  = false
	oldSleepReg       uint8 = 0xff
)

var PreInitDone bool
var PreInitError error

const (
	cmdOn          uint8 = 0x01
	cmdClearFaults uint8 = 0x03
	cmdWatchDog    uint8 = 0x07
	cmdVoutMode    uint8 = 0x20
	cmdVout        uint8 = 0x21
	cmdFan         uint8 = 0x3b
	cmdVoutStat    uint8 = 0x7a
	cmdIoutStat    uint8 = 0x7b
	cmdInputStat   uint8 = 0x7c
	cmdTempStat    uint8 = 0x7d
	cmdFanStat     uint8 = 0x81
	cmdReadVin     uint8 = 0x88
	cmdReadIin     uint8 = 0x89
	cmdReadVout    uint8 = 0x8b
	cmdReadIout    uint8 = 0x8c
	cmdReadTemp1   uint8 = 0x8d
	cmdReadTemp2   uint8 = 0x8e
	cmdReadTemp3   uint8 = 0x8f
	cmdReadFan1    uint8 = 0x90
	cmdReadFan2    uint8 = 0x91
	cmdPowerOut    uint8 = 0x96
	cmdPowerIn     uint8 = 0x97
	cmdMfrId       uint8 = 0x99
	cmdMfrModel    uint8 = 0x9a
	cmdMfrRev      uint8 = 0x9b
	cmdMfrLoc      uint8 = 0x9c
	cmdMfrDate     uint8 = 0x9d
	cmdMfrSerial   uint8 = 0x9e
	cmdVinMin      uint8 = 0xa0
	cmdVinMax      uint8 = 0xa1
	cmdVoutMin     uint8 = 0xa4
	cmdVoutMax     uint8 = 0xa5
	cmdIoutMax     uint8 = 0xa6
	cmdPoutMax     uint8 = 0xa7
	cmdMaxTemp1    uint8 = 0xc0
	cmdMaxTemp2    uint8 = 0xc1
	cmdMaxTemp3    uint8 = 0xc2
	cmdPriFwRev    uint8 = 0xdb
	cmdSecFwRev    uint8 = 0xdc
	cmdReadVin2    uint8 = 0xe0 // CP only
	cmdReadIin2    uint8 = 0xe1 // CP only
	cmdPowerIn2    uint8 = 0xe2 // CP only
	cmdReadTemp4   uint8 = 0xe6 // CP only
	cmdSleep       uint8 = 0xea // CP only
)

// Data is one sample of the PSU state.
type Data struct {
	PsuOn             bool
	VoutSet           float32
	FanSpeedSet       uint16
	VoutStatus        uint8
	IoutStatus        uint8
	InputStatus       uint8
	TemperatureStatus uint8
	FanStatus         uint8
	Vin               float32
	Iin               float32
	Vin2              float32 // CP only
	Iin2              float32 // CP only
	Vout              float32
	Iout              float32
	Temp1             float32
	Temp2             float32
	Temp3             float32
	Temp4             float32 // CP only
	FanSpeed1         float32
	FanSpeed2         float32
	PowerOut          float32
	PowerIn           float32
	PowerIn2          float32 // CP only
	LowPowerMode      bool
	SingleInputMode   bool
}

var psuTrace *list.List // Trace queue
const psuTraceLen = 30

var lastData Data
var lastDataValid bool
var lastDataMu sync.Mutex

var ( // Fixed fields
	MfrId       []byte
	MfrModel    []byte
	MfrRevision []byte
	MfrLocation []byte
	MfrDate     []byte
	MfrSerial   []byte
	VinMin      float32
	VinMax      float32
	VoutMin     float32
	VoutMax     float32
	IoutMax     float32
	PoutMax     float32
	MaxTemp1    float32
	MaxTemp2    float32
	MaxTemp3    float32
	PriFwRev    []byte
	SecFwRev    []byte
)

// Linear11 decodes the PMBus LINEAR11 format: a 5-bit signed exponent on
// top of an 11-bit signed mantissa.
func Linear11(word uint16) float32 {

	var exp int
	temp := word >> 11

	if (temp & 0x10) != 0 { // Negative exponent bitfield
		temp |= 0xffe0
		exp = -int((temp ^ 0xffff) + 1)
	} else {
		exp = int(temp)
	}
	value := word & 0x7ff
	var t float32 = float32(value)
	if value&0x400 != 0 { // Negative value, probably a temperature
		t = float32(0x800-value) * -1
	}
	return t * float32(math.Pow(2, float64(exp)))
}

// Linear16 decodes a voltage word. The exponent is fixed per model.
func Linear16(word uint16) float32 {

	if psuAddr == apPsuAddr {
		return float32(word) / 512.0
	}
	return float32(word) / 128.0
}

func ReverseLinear16(v float32) uint16 {

	var vFactor float32 = 128.0
	if psuAddr == apPsuAddr {
		vFactor = 512.0
	}

	return uint16(v * vFactor)
}

// Write an arbitrary command to the PSU. Be careful, this can brick the PSU!
// Only use this command as the last resort to support unimplemented commands.
func Write(cmd, val uint8) error {
	return psuWriteReg(psuAddr, cmd, val)
}

// Read an arbitrary command from the PSU.
func Read(cmd uint8) (uint8, error) {
	return psuReadReg(psuAddr, cmd)
}

// ReadWord reads an arbitrary word command from the PSU.
func ReadWord(cmd uint8) (uint16, error) {
	return psuReadWord(psuAddr, cmd)
}

// GetVoutRange returns the advertised min/max vout.
func GetVoutRange() (float32, float32) {
	return MinerVoutMin, MinerVoutMax
}

// Wrappers for PSU commands to allow for retries
func psuWriteReg(addr, reg, v uint8) error {
	var err error
	if psuAddr == 0 {
		return errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)
	for i := 0; i < psuRetries; i++ {
		err = psuDev.WriteReg(addr, reg, v)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
		log.Debugf("PSU psuWriteReg retry %d", i+1)
	}
	return err
}

func psuWriteWord(addr, reg uint8, v uint16) error {
	var err error
	if psuAddr == 0 {
		return errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)
	for i := 0; i < psuRetries; i++ {
		err = psuDev.WriteWord(addr, reg, v)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
		log.Debugf("PSU psuWriteWord retry %d", i+1)
	}
	return err
}

func psuSendCmd(reg uint8) error {
	if psuAddr == 0 {
		return errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)
	for i := 0; i < psuRetries; i++ {
		err = psuDev.SendCmd(addr(), reg)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
		log.Debugf("PSU psuSendCmd retry %d", i+1)
	}
	return err
}

func psuReadReg(addr, reg uint8) (uint8, error) {
	var v uint8
	if psuAddr == 0 {
		return 0, errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return 0, errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)
	for i := 0; i < psuRetries; i++ {
		v, err = psuDev.ReadReg(addr, reg)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
		log.Debugf("PSU psuReadReg retry %d", i+1)
	}
	return v, err
}

func psuReadWord(addr, reg uint8) (uint16, error) {
	var v uint16
	if psuAddr == 0 {
		return 0, errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return 0, errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)
	for i := 0; i < psuRetries; i++ {
		v, err = psuDev.ReadWord(addr, reg)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
		log.Debugf("PSU psuReadWord retry %d", i+1)
	}
	return v, err
}

func psuReadBlockData(addr, reg uint8) ([]byte, error) {
	if psuAddr == 0 {
		return nil, errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return nil, errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)
	var buf []byte
	for i := 0; i < psuRetries; i++ {
		buf, err = psuDev.ReadBlockData(addr, reg)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
		log.Debugf("PSU psuReadBlock retry %d", i+1)
	}
	return buf, err
}

func addr() uint8 {
	return psuAddr
}

// PsuOn turns the DC output on.
func PsuOn() {

	poweredOnMu.Lock()
	defer poweredOnMu.Unlock()

	log.Info("Turning on PSU")
	if psuAddr == cpPsuAddr {
		// CP firmware arms a watchdog across power on
		err := psuWriteReg(psuAddr, cmdWatchDog, 0)
		if err != nil {
			log.Errorf("Error writing to PSU WD command %v", err)
			return
		}
	}
	err := psuWriteReg(psuAddr, cmdOn, 0x80)
	if err != nil {
		log.Errorf("PSU ERROR: PSU On returned %s", err)
		return
	}

	// cached value guaranteed to be in sync w/ actual PSU state
	poweredOn = true
}

// PsuOff turns the DC output off.
func PsuOff() {

	poweredOnMu.Lock()
	defer poweredOnMu.Unlock()

	err := psuWriteReg(psuAddr, cmdOn, 0x00)

	if err != nil {
		log.Errorf("PSU ERROR: PSU Off returned %s", err)
		return
	}

	// cached value guaranteed to be in sync w/ actual PSU state
	poweredOn = false
}

func getSleepReg() bool {

	// Exceptions, some PSUs do not implement the full feature set
	if psuAddr == apPsuAddr {
		return false
	}

	val, err := psuReadReg(psuAddr, cmdSleep)
	if err != nil {
		log.Errorf("PSU ERROR: PSU Sleep returned %s", err)
	}
	if oldSleepReg != val { // Only log this when the value changes
		oldSleepReg = val
		log.Infof("PSU Sleep = 0x%02x", val)
	}
	return val == 0x1
}

// set sleep bit to enable low power mode
func setSleepReg(on bool) {

	var val uint8

	// Exceptions, some PSUs do not implement the full feature set
	if psuAddr == apPsuAddr {
		log.Errorf("PSU ERROR: AP PSU does not support sleep mode")
		return
	}

	if on {
		val = 0x01
	}
	err := psuWriteReg(psuAddr, cmdSleep, val)
	if err != nil {
		log.Errorf("PSU ERROR: PSU Sleep 0x%02x returned %s", val, err)
	}

}

// ClearFaults sets the PSU fault registers to 0
func ClearFaults() {

	err := psuSendCmd(cmdClearFaults) // Just send command byte, no data
	if err != nil {
		log.Errorf("PSU ERROR: PSU SendCmd returned %s", err)
	}
	for _, reg := range []uint8{cmdIoutStat, cmdVoutStat, cmdInputStat, cmdTempStat, cmdFanStat} {
		err = psuWriteReg(psuAddr, reg, 0x00)
		if err != nil {
			log.Errorf("PSU ERROR: PSU WriteReg returned %s", err)
		}
	}

}

// GetVoltage returns the PSU DC voltage setting.
func GetVoltage() float32 {

	if psuAddr == 0 {
		return -1.0
	}

	tempReg2, err := psuReadWord(psuAddr, cmdVout)
	if err != nil {
		log.Errorf("PSU ERROR: psuReadWord returned %s", err)
		return -1.0
	}

	return Linear16(tempReg2)
}

// SetVoltage sets the PSU DC voltage. Note: actual (measured) voltage might be significantly
// different from this setting, especially when there is no load across the terminals.
func SetVoltage(v float32) error {

	if psuAddr == 0 {
		return errors.New("no PSU detected")
	}

	if v > MinerVoutMax {
		log.Infof("PSU ERROR: SetVoltage() %.3fV out of range, clamp to %.3f", v, MinerVoutMax)
		v = MinerVoutMax
	}
	if v < MinerVoutMin {
		log.Infof("PSU ERROR: SetVoltage() %.3fV out of range, clamp to %.3f", v, MinerVoutMin)
		v = MinerVoutMin
	}

	tempReg2, err := psuReadWord(psuAddr, cmdVout)
	if err != nil {
		log.Errorf("PSU ERROR: psuReadWord returned %s", err)
	}
	if tempReg2 == ReverseLinear16(v) {
		// Voltage is already set to that value; this is a nop
		log.Infof("PSU VOUT already set to %.3f", v)
		return nil
	}

	log.Infof("Setting PSU VOUT to %.3f", v)
	err = psuWriteWord(psuAddr, cmdVout, ReverseLinear16(v))
	if err != nil {
		log.Errorf("PSU ERROR: PSU SetVoltage returned %s", err)
		return err
	}

	time.Sleep(500 * time.Millisecond) // Let PSU VOUT settle

	return nil
}

func GetMaxVout() float32 {
	if psuAddr == 0 {
		return -1.0
	}
	return MinerVoutMax
}

func GetMinVout() float32 {
	if psuAddr == 0 {
		return -1.0
	}
	return MinerVoutMin
}

func GetMaxPower() float32 {

	if psuAddr == 0 {
		return -1.0
	}

	return MinerPowerMax
}

// GetInputPower reads the AC side power draw. The 7.5 kW CP variant
// reports its two inputs separately, the sum is the real draw.
func GetInputPower(external bool) float32 { // Reread PSU fixed data if not called inside the daemon

	if psuAddr == 0 {
		return -1.0
	}

	if external {
		getFixedData()
	}

	tempRegP, err := psuReadWord(psuAddr, cmdPowerIn)
	if err != nil {
		log.Errorf("PSU ERROR: psuReadWord returned %s", err)
		return -1.0
	}

	if psuAddr == cpPsuAddr && len(MfrModel) > 5 && MfrModel[3] == '7' && MfrModel[4] == '5' {
		tempRegP2, err := psuReadWord(psuAddr, cmdPowerIn2)
		if err != nil {
			log.Errorf("PSU ERROR: psuReadWord returned %s", err)
			return -1.0
		}
		return Linear11(tempRegP) + Linear11(tempRegP2)
	}

	return Linear11(tempRegP)
}

// PsuIsOn returns the PSU power state.
func PsuIsOn() bool {
	return poweredOn
}

// PsuAlarmState returns the PSU alarm state. Not all PSUs implement all alarms.
func PsuAlarmState() bool {
	return psuAlarm || vIn2Alarm
}

func psuGet() (*smbus.Conn, error) {
	psuMutex.Lock()
	conn, err := smbus.Open(psuBus, psuAddr)
	if err != nil {
		psuMutex.Unlock()
		return nil, err
	}
	conn.SetTxPEC(true)
	conn.SetRxPEC(false)
	return conn, nil
}

func psuFree(psud *smbus.Conn) {
	psud.Close()
	psuMutex.Unlock()
}

func pollPsuData() {

	var psud Data
	var err error

	// avoid collision w/ PsuOn() and PsuOff()
	poweredOnMu.Lock()

	psud, err = GetPsuStatus(false)
	if err != nil {
		log.Errorf("PSU ERROR: GetPsuStatus returned %s; retrying", err)
		psud, err = GetPsuStatus(false)
		if err != nil {
			log.Errorf("PSU ERROR: GetPsuStatus returned %s; retry failed!", err)
			poweredOnMu.Unlock()
			return
		}
	}
	psuTrace.PushBack(psud)
	if psuTrace.Len() > psuTraceLen {
		e := psuTrace.Front()
		psuTrace.Remove(e)
	}

	// Check power state
	if poweredOn && !psud.PsuOn {
		/* Do a retry */
		tempReg, err := psuReadReg(psuAddr, cmdOn)
		if err != nil {
			log.Errorf("PSU ERROR: psuReadReg cmdOn returned %s", err)
		} else {
			psud.PsuOn = tempReg == 0x80
		}
		if poweredOn && !psud.PsuOn {
			log.Errorf("ALARM: PSU powered itself off; restarting")
			psuAlarm = true
			poweredOn = false
			printTrace()
			panic("PSU powered itself off")
		}
	} else if !poweredOn && psud.PsuOn {
		/* Do a retry to make sure we didn't hit a timing issue */
		tempReg, err := psuReadReg(psuAddr, cmdOn)
		if err != nil {
			log.Errorf("PSU ERROR: psuReadReg cmdOn returned %s", err)
		} else {
			psud.PsuOn = tempReg == 0x80
		}
		if !poweredOn && psud.PsuOn {
			log.Infof("PSU powered itself back on")
			psuAlarm = false
			poweredOn = true
			printTrace()
		}
	}

	// release lock after consistency check
	poweredOnMu.Unlock()

	// Vout status
	vOutStatus = psud.VoutStatus
	if vOutStatus != 0 && !vOutAlarm {
		log.Errorf("ALARM: PSU VOUT Status = 0x%02x", vOutStatus)
		vOutAlarm = true
		printTrace()
	} else if vOutStatus == 0 {
		vOutAlarm = false
	}

	// Iout status
	iOutStatus = psud.IoutStatus
	if iOutStatus != 0 && !iOutAlarm {
		log.Errorf("ALARM: PSU IOUT Status = 0x%02x", iOutStatus)
		iOutAlarm = true
		printTrace()
	} else if iOutStatus == 0 {
		iOutAlarm = false
	}

	// Input status
	inputStatus = psud.InputStatus
	if inputStatus != 0 && !inputAlarm {
		if psuAddr == cpPsuAddr && inputStatus == 0x10 {
			// 2nd input missing is already covered by vIn2Alarm
			inputStatus = 0
		}
		inputAlarm = true
		log.Errorf("ALARM: PSU Input Status = 0x%02x", inputStatus)
		printTrace()
	} else if inputStatus == 0 {
		inputAlarm = false
	}

	// Temperature status
	temperatureStatus = psud.TemperatureStatus
	if temperatureStatus != 0 && !temperatureAlarm {
		log.Errorf("ALARM: PSU Temperature Status = 0x%02x", temperatureStatus)
		temperatureAlarm = true
		printTrace()
	} else if temperatureStatus == 0 {
		temperatureAlarm = false
	}

	// Fan status
	fanStatus = psud.FanStatus
	if fanStatus != 0 && !fanAlarm {
		log.Errorf("ALARM: PSU fan Status = 0x%02x", fanStatus)
		fanAlarm = true
		printTrace()
	} else if fanStatus == 0 {
		fanAlarm = false
	}

	// Second AC input, CP only
	if psuAddr == cpPsuAddr && !singleInput {
		if psud.Vin2 < 180.0 && !vIn2Alarm {
			log.Errorf("ALARM: PSU Vin2 = %.3fV", psud.Vin2)
			vIn2Alarm = true
			printTrace()
		} else if psud.Vin2 >= 180.0 {
			vIn2Alarm = false
		}
	}

	lastDataMu.Lock()
	lastData = psud
	lastDataValid = true
	lastDataMu.Unlock()
}

func printTrace() {
	var i int = 1
	for e := psuTrace.Front(); e != nil; e = e.Next() {
		psud := e.Value.(Data)
		log.Infof("PSU Trace: t-%d seconds:", psuTrace.Len()-i)
		log.Infof("PSU: Vout status = 0x%02x", psud.VoutStatus)
		log.Infof("PSU: Iout status = 0x%02x", psud.IoutStatus)
		log.Infof("PSU: Input status = 0x%02x", psud.InputStatus)
		log.Infof("PSU: Temperature status = 0x%02x", psud.TemperatureStatus)
		log.Infof("PSU: Fan status = 0x%02x", psud.FanStatus)
		log.Infof("PSU: Vin = %.3fV", psud.Vin)
		log.Infof("PSU: Iin = %.2fA", psud.Iin)
		log.Infof("PSU: Vout = %.3fV", psud.Vout)
		log.Infof("PSU: Iout = %.2fA", psud.Iout)
		log.Infof("PSU: Temperature 1 = %.2fC", psud.Temp1)
		log.Infof("PSU: Temperature 2 = %.2fC", psud.Temp2)
		log.Infof("PSU: Temperature 3 = %.2fC", psud.Temp3)
		log.Infof("PSU: Fan 1 speed = %.2f RPM", psud.FanSpeed1)
		log.Infof("PSU: Power Out = %.2fW", psud.PowerOut)
		log.Infof("PSU: Power In = %.2fW", psud.PowerIn)
		if psuAddr == cpPsuAddr {
			log.Infof("PSU: Fan 2 speed = %.2f RPM", psud.FanSpeed2)
			log.Infof("PSU: Vin2 = %.3fV", psud.Vin2)
			log.Infof("PSU: Iin2 = %.2fA", psud.Iin2)
			log.Infof("PSU: Power In 2 = %.2fW", psud.PowerIn2)
			log.Infof("PSU: Temperature 4 = %.2fC", psud.Temp4)
		}
		i++
	}

	// Clear the trace
	psuTrace = list.New()
}

// GetPsuStatus polls the live registers in one bus claim.
func GetPsuStatus(print bool) (psud Data, err error) {
	psud = Data{}

	if psuAddr == 0 {
		return psud, errors.New("no PSU detected")
	}

	psuDev, err := psuGet()
	if err != nil {
		log.Errorf("PSU ERROR: smbus.Open() for bus %d device 0x%2d returned %s", psuBus, psuAddr, err)
		return psud, errors.New("smbus.Open() failed")
	}
	defer psuFree(psuDev)

	onReg, err := psuDev.ReadReg(psuAddr, cmdOn)
	if err != nil {
		return psud, err
	}
	psud.PsuOn = onReg == 0x80

	voutSet, err := psuDev.ReadWord(psuAddr, cmdVout)
	if err != nil {
		return psud, err
	}
	psud.VoutSet = Linear16(voutSet)

	fanSet, err := psuDev.ReadWord(psuAddr, cmdFan)
	if err != nil {
		return psud, err
	}
	psud.FanSpeedSet = fanSet

	stats := []struct {
		cmd  uint8
		into *uint8
	}{
		{cmdVoutStat, &psud.VoutStatus},
		{cmdIoutStat, &psud.IoutStatus},
		{cmdInputStat, &psud.InputStatus},
		{cmdTempStat, &psud.TemperatureStatus},
		{cmdFanStat, &psud.FanStatus},
	}
	for _, s := range stats {
		v, err := psuDev.ReadReg(psuAddr, s.cmd)
		if err != nil {
			return psud, err
		}
		*s.into = v
	}

	words := []struct {
		cmd  uint8
		into *float32
	}{
		{cmdReadVin, &psud.Vin},
		{cmdReadIin, &psud.Iin},
		{cmdReadIout, &psud.Iout},
		{cmdReadTemp1, &psud.Temp1},
		{cmdReadTemp2, &psud.Temp2},
		{cmdReadTemp3, &psud.Temp3},
		{cmdReadFan1, &psud.FanSpeed1},
		{cmdPowerOut, &psud.PowerOut},
		{cmdPowerIn, &psud.PowerIn},
	}
	for _, w := range words {
		v, err := psuDev.ReadWord(psuAddr, w.cmd)
		if err != nil {
			return psud, err
		}
		*w.into = Linear11(v)
	}

	vout, err := psuDev.ReadWord(psuAddr, cmdReadVout)
	if err != nil {
		return psud, err
	}
	psud.Vout = Linear16(vout)

	if psuAddr == cpPsuAddr {
		cpWords := []struct {
			cmd  uint8
			into *float32
		}{
			{cmdReadFan2, &psud.FanSpeed2},
			{cmdReadVin2, &psud.Vin2},
			{cmdReadIin2, &psud.Iin2},
			{cmdPowerIn2, &psud.PowerIn2},
			{cmdReadTemp4, &psud.Temp4},
		}
		for _, w := range cpWords {
			v, err := psuDev.ReadWord(psuAddr, w.cmd)
			if err != nil {
				return psud, err
			}
			*w.into = Linear11(v)
		}
	}

	psud.SingleInputMode = singleInput
	psud.LowPowerMode = lowPower.isLowPower

	if print {
		log.Infof("PSU: On=%v Vout=%.3fV Iout=%.2fA Pin=%.1fW Pout=%.1fW Temp=%.1f/%.1f/%.1fC",
			psud.PsuOn, psud.Vout, psud.Iout, psud.PowerIn, psud.PowerOut,
			psud.Temp1, psud.Temp2, psud.Temp3)
	}

	return psud, nil
}

// LastStatus returns the most recent monitor sample.
func LastStatus() (Data, bool) {
	lastDataMu.Lock()
	defer lastDataMu.Unlock()
	return lastData, lastDataValid
}

func StartPsuMonitor() {
	go func() {

		for {

			pollPsuData()
			time.Sleep(PSU_MONITOR_INTERVAL_MS * time.Millisecond)
		}

	}()
}

// SetPsuType probes the known bus addresses and remembers which model
// answered.
func SetPsuType() int {

	psuAddr = 0

	fd, err := smbus.Open(psuBus, cpPsuAddr)
	if err != nil {
		log.Errorf("PSU ERROR: Open CP PSU fd failed, %s", err)
		return 0
	}

	_, err = fd.ReadReg(cpPsuAddr, cmdOn)
	fd.Close()
	if err == nil {
		psuAddr = cpPsuAddr
		log.Infof("PSU: CP PSU found")
		return cpPsuAddr
	}

	fd, err = smbus.Open(psuBus, apPsuAddr)
	if err != nil {
		log.Errorf("PSU ERROR: Open AP PSU fd failed, %s", err)
		return 0
	}

	_, err = fd.ReadReg(apPsuAddr, cmdOn)
	fd.Close()
	if err == nil {
		psuAddr = apPsuAddr
		log.Infof("PSU: AP PSU found")
		return apPsuAddr
	}

	log.Error("PSU ERROR: No PSU found!!!")
	return 0
}

func blockString(addr, reg uint8) []byte {
	buf, err := psuReadBlockData(addr, reg)
	if err != nil {
		log.Errorf("PSU ERROR: psuReadBlockData returned %s", err)
		return nil
	}
	// Byte 0 is strlen
	strlen := buf[0]
	if strlen > 0 && strlen <= psuStrLen {
		buf = buf[1 : strlen+1]
	}
	return buf
}

func getFixedData() {
	var tempReg2 uint16
	var err error

	MfrId = blockString(psuAddr, cmdMfrId)
	MfrModel = blockString(psuAddr, cmdMfrModel)
	MfrRevision = blockString(psuAddr, cmdMfrRev)
	MfrLocation = blockString(psuAddr, cmdMfrLoc)
	MfrDate = blockString(psuAddr, cmdMfrDate)
	MfrSerial = blockString(psuAddr, cmdMfrSerial)
	PriFwRev = blockString(psuAddr, cmdPriFwRev)
	SecFwRev = blockString(psuAddr, cmdSecFwRev)

	limits := []struct {
		cmd    uint8
		into   *float32
		decode func(uint16) float32
	}{
		{cmdVinMin, &VinMin, Linear11},
		{cmdVinMax, &VinMax, Linear11},
		{cmdVoutMin, &VoutMin, Linear16},
		{cmdVoutMax, &VoutMax, Linear16},
		{cmdIoutMax, &IoutMax, Linear11},
		{cmdPoutMax, &PoutMax, Linear11},
		{cmdMaxTemp1, &MaxTemp1, Linear11},
		{cmdMaxTemp2, &MaxTemp2, Linear11},
		{cmdMaxTemp3, &MaxTemp3, Linear11},
	}
	for _, l := range limits {
		tempReg2, err = psuReadWord(psuAddr, l.cmd)
		if err != nil {
			log.Errorf("PSU ERROR: psuReadWord returned %s", err)
			return
		}
		*l.into = l.decode(tempReg2)
	}
}

func IsSingleInput() bool {
	return singleInput
}

func PreInit() {

	rc := SetPsuType()
	if rc == 0 { // No PSU detected
		return
	}

	psuTrace = list.New()

	getFixedData()

	psud, _ := GetPsuStatus(true)

	if psuAddr == cpPsuAddr && psud.Vin2 < 180.0 {
		singleInput = true
		MinerPowerMax = singleInputMaxPower
		log.Infof("PSU ALARM: Single AC input detected. Max power = %.1fW", MinerPowerMax)
	} else {
		MinerPowerMax = devhdr.GetMaxLimit().MaxPower // Watts; should we use PoutMax from PSU?
		log.Infof("PSU: Max power = %.1fW", MinerPowerMax)
	}
	_ = SetVoltage(MinerVoutMin)

	// Sanity-check limit values from PSU; only valid for the CP family
	if psuAddr == cpPsuAddr {
		if VoutMin < 11.0 || VoutMin > 18.0 {
			log.Errorf("PSU: VoutMin %.3fV is invalid; leaving at default %.3fV", VoutMin, MinerVoutMin)
		}
		if VoutMax < 15.0 || VoutMax > 25.0 {
			log.Errorf("PSU: VoutMax %.3fV is invalid; leaving at default %.3fV", VoutMax, MinerVoutMax)
		} else {
			MinerVoutMax = VoutMax
			log.Infof("PSU: VoutMax from PSU is %.3fV", MinerVoutMax)
		}
		if PoutMax < 4000.0 || PoutMax > 15000.0 {
			log.Errorf("PSU: PoutMax %.1fW is invalid; leaving at default %.1fW", PoutMax, MinerPowerMax)
		} else {
			MinerPowerMax = PoutMax
			log.Infof("PSU: PoutMax from PSU is %.1fW", MinerPowerMax)
		}
	}

	PreInitDone = true
}

func Init() {
	// skip preinit on either done or error
	if !PreInitDone && PreInitError == nil {
		PreInit()
	}
	ClearFaults()
	PsuOn()

	StartPsuMonitor()
	log.Infof("PSU: PSU monitor started")
}
