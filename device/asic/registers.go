package asic

import (
	"chainctl/util"
)

// Chip register addresses. Values travel big endian; broadcast writes keep
// the model's shadow copy in sync.
const (
	ADDR_CHIP_ID                = 0x00
	ADDR_HASH_RATE              = 0x04
	ADDR_PLL0_PARAM             = 0x08
	ADDR_CHIP_NONCE_OFFSET      = 0x0C
	ADDR_HASH_COUNTING          = 0x10
	ADDR_TICKET_MASK            = 0x14
	ADDR_MISC_CONTROL           = 0x18
	ADDR_I2C_CONTROL            = 0x1C
	ADDR_ORDERED_CLK_ENABLE     = 0x20
	ADDR_FAST_UART              = 0x28
	ADDR_UART_RELAY             = 0x2C
	ADDR_TICKET_MASK2           = 0x38
	ADDR_CORE_REG_CONTROL       = 0x3C
	ADDR_CORE_REG_VALUE         = 0x40
	ADDR_EXT_TEMP_SENSOR        = 0x44
	ADDR_ERROR_FLAG             = 0x48
	ADDR_NONCE_ERROR_COUNT      = 0x4C
	ADDR_NONCE_OVERFLOW_COUNT   = 0x50
	ADDR_ANALOG_MUX             = 0x54
	ADDR_IO_DRIVER_STRENGTH     = 0x58
	ADDR_TIMEOUT                = 0x5C
	ADDR_PLL1_PARAM             = 0x60
	ADDR_PLL2_PARAM             = 0x64
	ADDR_PLL3_PARAM             = 0x68
	ADDR_ORDERED_CLK_MONITOR    = 0x6C
	ADDR_PLL0_DIVIDER           = 0x70
	ADDR_PLL1_DIVIDER           = 0x74
	ADDR_PLL2_DIVIDER           = 0x78
	ADDR_PLL3_DIVIDER           = 0x7C
	ADDR_CLK_ORDER_CONTROL0     = 0x80
	ADDR_CLK_ORDER_CONTROL1     = 0x84
	ADDR_CLK_ORDER_STATUS       = 0x8C
	ADDR_FREQ_SWEEP_CONTROL1    = 0x90
	ADDR_GOLDEN_NONCE_SWEEP     = 0x94
	ADDR_GROUP_PATTERN_STATUS   = 0x98
	ADDR_NONCE_RETURNED_TIMEOUT = 0x9C
	ADDR_SINGLE_PATTERN_STATUS  = 0xA0
	ADDR_VERSION_ROLLING        = 0xA4
	ADDR_REG_A8                 = 0xA8
	ADDR_REG_B8                 = 0xB8
	ADDR_REG_B9                 = 0xB9
	ADDR_REG_BC                 = 0xBC
	ADDR_REG_C0                 = 0xC0
	ADDR_REG_C4                 = 0xC4
)

// Core register ids, written through ADDR_CORE_REG_CONTROL.
const (
	CORE_REG_CLK_DELAY_CTRL = 0
	CORE_REG_2              = 2
	CORE_REG_ERROR          = 3
	CORE_REG_ENABLE         = 4
	CORE_REG_HASH_CLK_CTRL  = 5
	CORE_REG_HASH_CLK_COUNT = 6
	CORE_REG_SWEEP_CLK_CTRL = 7
	CORE_REG_8              = 8
	CORE_REG_11             = 11
	CORE_REG_15             = 15
	CORE_REG_16             = 16
	CORE_REG_22             = 22
)

// CoreRegValue packs a core register write for the core register control
// window: bit 31 strobe, core id, register id with bit 7 set, value.
func CoreRegValue(coreID uint8, regID uint8, val uint8) uint32 {
	return 0x80000000 | uint32(coreID)<<16 | uint32(0x80|regID)<<8 | uint32(val)
}

// TicketMaskFromDifficulty maps a share difficulty to the ticket mask: the
// largest power of two not above the difficulty, minus one. Difficulty is
// a power of two in practice; anything else floors.
func TicketMaskFromDifficulty(diff uint32) uint32 {
	if diff == 0 {
		return 0
	}
	return uint32(util.ClosestPowerOf2(uint64(diff)) - 1)
}

// MiscControl, register 0x18.
type MiscControl uint32

func (r MiscControl) SetCoreReturnNonce(x uint32) MiscControl {
	return MiscControl(uint32(r)&^(0xF<<28) | (x&0xF)<<28)
}

func (r MiscControl) SetB27_26(x uint32) MiscControl {
	return MiscControl(uint32(r)&^(0x3<<26) | (x&0x3)<<26)
}

func (r MiscControl) SetB25_24(x uint32) MiscControl {
	return MiscControl(uint32(r)&^(0x3<<24) | (x&0x3)<<24)
}

func (r MiscControl) SetB19_16(x uint32) MiscControl {
	return MiscControl(uint32(r)&^(0xF<<16) | (x&0xF)<<16)
}

// UARTRelay, register 0x2C. Middle chips forward traffic for the ends of
// their domain; the gap count spaces the relayed bytes.
type UARTRelay uint32

func (r UARTRelay) SetGapCnt(x uint32) UARTRelay {
	return UARTRelay(uint32(r)&0x0000FFFF | x<<16)
}

func (r UARTRelay) EnableRORelay() UARTRelay {
	return r | 1<<1
}

func (r UARTRelay) EnableCORelay() UARTRelay {
	return r | 1<<0
}

// FastUARTConfiguration, register 0x28.
type FastUARTConfiguration uint32

// SetBclkSel picks the baud clock source: false CLKI, true PLL3.
func (r FastUARTConfiguration) SetBclkSel(pll3 bool) FastUARTConfiguration {
	if pll3 {
		return r | 1<<15
	}
	return r &^ (1 << 15)
}

func (r FastUARTConfiguration) SetBt8d(x uint32) FastUARTConfiguration {
	return FastUARTConfiguration(uint32(r)&^(0x1F<<8) | (x&0x1F)<<8)
}

// VersionRolling, register 0xA4.
type VersionRolling uint32

func (r VersionRolling) Enable() VersionRolling {
	return r | 1<<31 | 1<<28
}

// SetMask loads bits 28:13 of the rolled version range into the low half
// word.
func (r VersionRolling) SetMask(mask uint32) VersionRolling {
	return VersionRolling(uint32(r)&0xFFFF0000 | mask>>13&0xFFFF)
}

// RegA8, the core reset strobe register.
type RegA8 uint32

func (r RegA8) SetB8() RegA8 {
	return r | 1<<8
}

func (r RegA8) SetB7_4(x uint32) RegA8 {
	return RegA8(uint32(r)&^(0xF<<4) | (x&0xF)<<4)
}

// ClockDelayCtrl, core register 0.
type ClockDelayCtrl uint8

func (r ClockDelayCtrl) SetCcdly(x uint8) ClockDelayCtrl {
	return ClockDelayCtrl(uint8(r)&^(0x3<<6) | (x&0x3)<<6)
}

func (r ClockDelayCtrl) SetPwth(x uint8) ClockDelayCtrl {
	return ClockDelayCtrl(uint8(r)&^(0x7<<3) | (x&0x7)<<3)
}

func (r ClockDelayCtrl) DisableSweep() ClockDelayCtrl {
	return r &^ (1 << 2)
}
