package devhdr

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"chainctl/log"
)

const (
	ChassisConfigFile string = "chassisconfig.json"

	// MaxHashBoards is the slot count of the chassis.
	MaxHashBoards = 3

	// FanFileDir is where the tachometer drops per fan speed files.
	FanFileDir = "/tmp/fan"
)

// ConfigDir is where the chassis description lives. The daemon config may
// point it elsewhere; the environment wins over both.
var ConfigDir = "/etc/chainctl"

var ChassisConfigOnce sync.Once
var ChassisCfg = &ChassisConfig{
	Chassis:        "",
	Hashboardcount: MaxHashBoards,
	Chaincount:     1,
}
var HashboardInfo map[uint]*Hb

// GpioPin names one sysfs GPIO: the controller, the pin on it and the
// flat sysfs number.
type GpioPin struct {
	Gpio  string `json:"gpio,omitempty"`
	Pin   int    `json:"pin,omitempty"`
	Value int    `json:"value,omitempty"`
}

type Gpio struct {
	Thermaltrip GpioPin `json:"thermaltrip,omitempty"`
	Presence    GpioPin `json:"presence,omitempty"`
	Reset       GpioPin `json:"reset,omitempty"`
	Power       GpioPin `json:"power,omitempty"`
}

// Hb describes one hash board chain: its slot, chain index on the board,
// global board id, tty and control GPIOs.
type Hb struct {
	Slot     uint   `json:"slot,omitempty"`
	Chain    uint   `json:"chain,omitempty"`
	Board    uint   `json:"board,omitempty"`
	Uartname string `json:"uartname,omitempty"`
	Gpio     Gpio   `json:"gpio,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

type MaxLimit struct {
	MaxTHs              float32 `json:"maxths,omitempty"`
	MaxPower            float32 `json:"maxpower,omitempty"`
	MaxAsicsInHashboard uint    `json:"maxasicsinhashboard,omitempty"`
	MaxAsicsInChain     uint    `json:"maxasicsinchain,omitempty"`
}

type ChassisConfig struct {
	Chassis        string          `json:"chassis,omitempty"`
	Hashboardcount uint            `json:"hashboardcount,omitempty"`
	Chaincount     uint            `json:"chaincount,omitempty"`
	HbPowerSupport bool            `json:"hbpowersupport,omitempty"`
	Hbs            map[string][]Hb `json:"hbs,omitempty"`
	MaxLimit       MaxLimit        `json:"maxlimit,omitempty"`
}

// ReadChassisConfiguration loads the chassis description once. The daemon
// cannot run without it, so a load failure exits.
func ReadChassisConfiguration() error {
	ChassisConfigOnce.Do(func() {
		if err := readChassisConfiguration(); err != nil {
			log.Errorf("Failed to read chassis configuration, %v", err)
			os.Exit(-1)
		}
	})
	return nil
}

func readChassisConfiguration() error {
	dir := ConfigDir
	if env := os.Getenv("CHAINCTL_FACTORY_DIR"); env != "" {
		dir = env
	}
	jsonFile, err := os.Open(dir + "/" + ChassisConfigFile)
	if err != nil {
		log.Errorf("failed to open chassisConfig %v", err)
		return err
	}
	defer jsonFile.Close()
	byteValue, _ := io.ReadAll(jsonFile)

	var c ChassisConfig
	if err := json.Unmarshal(byteValue, &c); err != nil {
		log.Errorf("failed to unmarshall chassisConfig error %v", err)
		return err
	}
	if c.Hashboardcount == 0 {
		c.Hashboardcount = MaxHashBoards
	}
	if c.Chaincount == 0 {
		c.Chaincount = 1
	}
	ChassisCfg = &c
	HashboardInfo = make(map[uint]*Hb)
	for slot := uint(1); slot <= c.Hashboardcount; slot++ {
		hbs := c.Hbs[fmt.Sprintf("hb%d", slot)]
		for chain := uint(0); chain < c.Chaincount && chain < uint(len(hbs)); chain++ {
			hb := &hbs[chain]
			HashboardInfo[hb.Board] = hb
		}
	}
	for _, v := range HashboardInfo {
		log.Debugf("hb %+v", v)
	}
	log.Debugf("chassisConfig %+v", ChassisCfg)
	return nil
}

// HashBoards returns every configured chain in board id order.
func HashBoards() []*Hb {
	boards := make([]*Hb, 0, len(HashboardInfo))
	for _, hb := range HashboardInfo {
		boards = append(boards, hb)
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].Board < boards[j].Board })
	return boards
}

// GetUartNameFromIds finds the uartName from chassis config, using
// brd and chain Ids.
func GetUartNameFromIds(brd, chn uint32) string {
	hb := ChassisCfg.Hbs[fmt.Sprintf("hb%d", brd)]
	if int(chn) >= len(hb) {
		log.Errorf("No chain %v on board %v", chn, brd)
		return ""
	}
	chain := hb[chn]
	if chain.Chain != uint(chn) {
		log.Errorf("Chain Id didn't match!!! actual %v expected %v", chain.Chain, chn)
		return ""
	}
	return fmt.Sprintf("/dev/%v", chain.Uartname)
}

// GetHashBoardCount returns the hashboard count.
func GetHashBoardCount() uint32 {
	return uint32(ChassisCfg.Hashboardcount)
}

// GetHashBoardChainCount returns the chain count per hashboard.
func GetHashBoardChainCount() uint32 {
	return uint32(ChassisCfg.Chaincount)
}

// GetTotalChainCount returns the chain count of the whole chassis.
func GetTotalChainCount() uint32 {
	return uint32(ChassisCfg.Hashboardcount * ChassisCfg.Chaincount)
}

// GetMaxLimit returns the chassis limits, with defaults where the config
// leaves them unset.
func GetMaxLimit() MaxLimit {
	lim := ChassisCfg.MaxLimit
	if lim.MaxPower == 0 {
		lim.MaxPower = 5000
	}
	if lim.MaxAsicsInChain == 0 {
		lim.MaxAsicsInChain = 250
	}
	if lim.MaxAsicsInHashboard == 0 {
		lim.MaxAsicsInHashboard = 250
	}
	return lim
}

// GetThermalTripSysfsValue returns the sysfs thermal trip gpio for a given
// board
func GetThermalTripSysfsValue(brdChainId uint) int {
	return HashboardInfo[brdChainId].Gpio.Thermaltrip.Value
}

// GetHashBoardResetSysfsValue returns the sysfs gpio reset for a given
// board
func GetHashBoardResetSysfsValue(brdChainId uint) int {
	return HashboardInfo[brdChainId].Gpio.Reset.Value
}

// GetHashBoardPresenceSysfsValue returns the sysfs gpio presence for a given
// board
func GetHashBoardPresenceSysfsValue(brdId uint) int {
	return HashboardInfo[brdId].Gpio.Presence.Value
}

// GetHashBoardPowerSysfsValue returns the sysfs gpio power enable for a given
// board
func GetHashBoardPowerSysfsValue(brdId uint) int {
	return HashboardInfo[brdId].Gpio.Power.Value
}

// GetHashBoardPowerSupport reports whether the chassis can power hash
// boards on and off through GPIO pins.
func GetHashBoardPowerSupport() bool {
	return ChassisCfg.HbPowerSupport
}

// GetChassisModelNumber returns the chassis name.
func GetChassisModelNumber() string {
	if ChassisCfg.Chassis == "" {
		return "CC1000"
	}
	return ChassisCfg.Chassis
}
