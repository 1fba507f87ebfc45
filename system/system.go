package system

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"

	"chainctl/device/devhdr"
	"chainctl/log"
	"chainctl/util"
)

const (
	ControlBoard string = "cb"
	HashBoard    string = "hb"
)

// HashBoardInfo is the inventory record of one hash board.
type HashBoardInfo struct {
	BoardName       string
	SerialNumber    string
	PartNumber      string
	BoardRevision   string
	ManufactureInfo string
	AsicInfo        string
}

// ControlBoardInfo is the inventory record of the control board and chassis.
type ControlBoardInfo struct {
	HashBoardInfo
	MacAddress          string
	ChassisSerialNumber string
	ChassisModelNumber  string
	ChassisModelVersion string
}

// SystemInformation identifies the chassis, control board and hash boards.
type SystemInformation struct {
	HashBoardCount   int
	Hostname         string
	KernelVersion    string
	DaemonUptime     float64
	ControlBoardInfo ControlBoardInfo
	HashBoardInfo    []HashBoardInfo
}

var cachedSysinfo *SystemInformation

// getEepromInventory fills an inventory record. The eeprom layout is not
// finalized, so the values are placeholders until manufacturing flashes
// real records.
func getEepromInventory(brd string) *ControlBoardInfo {
	var devInfo ControlBoardInfo
	devInfo.BoardName = brd
	devInfo.SerialNumber = "000000001"
	devInfo.PartNumber = "000000001"
	devInfo.ManufactureInfo = "CHAINCTL"
	devInfo.BoardRevision = "1.0"
	if brd == ControlBoard {
		devInfo.ChassisSerialNumber = "000000001"
		devInfo.ChassisModelNumber = "CC1370"
		devInfo.ChassisModelVersion = "1.0"
	} else if strings.Contains(brd, HashBoard) {
		devInfo.AsicInfo = "BM13XX"
	}
	log.Debugf(" brd:%v devInfo: %v\n", brd, devInfo)
	return &devInfo
}

func utsField(f []byte) string {
	for i, b := range f {
		if b == 0 {
			return string(f[:i])
		}
	}
	return string(f)
}

func kernelVersion() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		log.Errorf("uname failed: %v", err)
		return ""
	}
	return utsField(uts.Sysname[:]) + " " + utsField(uts.Release[:])
}

func hostname() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return utsField(uts.Nodename[:])
}

// macAddress returns the hardware address of the first interface which is
// up and not a loopback.
func macAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Errorf("net.Interfaces failed: %v", err)
		return ""
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return ifc.HardwareAddr.String()
	}
	return ""
}

func (si *SystemInformation) clone() *SystemInformation {
	out := *si
	out.HashBoardInfo = append([]HashBoardInfo(nil), si.HashBoardInfo...)
	return &out
}

// GetSystemInfo returns the chassis identifiers, for example model, serial,
// part, manufacturing and board revision information.
func GetSystemInfo() (*SystemInformation, error) {
	if err := devhdr.ReadChassisConfiguration(); err != nil {
		log.Errorf("Failed to read chassis configuration, %v", err)
		return nil, err
	}

	// callers get a copy, never the cached record itself
	if cachedSysinfo != nil {
		out := cachedSysinfo.clone()
		out.DaemonUptime = util.SystemUptimeInSec()
		return out, nil
	}

	var sysInfo SystemInformation
	sysInfo.HashBoardCount = int(devhdr.GetHashBoardCount())
	sysInfo.Hostname = hostname()
	sysInfo.KernelVersion = kernelVersion()

	cfg := getEepromInventory(ControlBoard)
	if cfg == nil {
		log.Errorf("Failed to get eeprom config for %v", ControlBoard)
		return nil, fmt.Errorf("failed to get eeprom config for %v", ControlBoard)
	}
	cfg.MacAddress = macAddress()
	sysInfo.ControlBoardInfo = *cfg

	for idx := 1; idx <= sysInfo.HashBoardCount; idx++ {
		hbCfg := getEepromInventory(fmt.Sprintf("%s%d", HashBoard, idx))
		sysInfo.HashBoardInfo = append(sysInfo.HashBoardInfo, hbCfg.HashBoardInfo)
	}
	log.Debugf("sysInfo: %+v", sysInfo)

	cachedSysinfo = sysInfo.clone()
	out := sysInfo.clone()
	out.DaemonUptime = util.SystemUptimeInSec()
	return out, nil
}
