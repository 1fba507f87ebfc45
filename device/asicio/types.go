package asicio

import (
	"os"
	"sync"
)

// Frame type codes. Commands go out with the 0x55 0xAA preamble; responses
// come back with 0xAA 0x55.
const (
	CMD_SET_CHIP_ADDR  uint8 = 0x40 // assign a chip its bus address
	CMD_WRITE_ONE      uint8 = 0x41 // register write to one chip
	CMD_READ_ONE       uint8 = 0x42 // register read from one chip
	CMD_WRITE_ALL      uint8 = 0x51 // register write to every chip
	CMD_READ_ALL       uint8 = 0x52 // register read from every chip
	CMD_CHAIN_INACTIVE uint8 = 0x53 // drop all chips off the bus before re-addressing
)

const (
	CMD_PREAMBLE_0 uint8 = 0x55
	CMD_PREAMBLE_1 uint8 = 0xAA
	RSP_PREAMBLE_0 uint8 = 0xAA
	RSP_PREAMBLE_1 uint8 = 0x55

	FRAME_LEN_WRITE = 11 // preamble + type + len + chip + reg + value + crc
	FRAME_LEN_CMD   = 7  // preamble + type + len + chip + reg + crc

	RSP_LEN_REG   = 9  // preamble + value + chip + reg + crc
	RSP_LEN_NONCE = 11 // preamble + nonce + midstate + job + version + crc

	// Bit 7 of the final response byte picks the shape: set for nonce
	// returns, clear for register reads.
	RSP_NONCE_FLAG uint8 = 0x80
)

// regWriteType is the packed body of a register write frame, everything
// after the preamble except the trailing CRC5.
type regWriteType struct {
	Cmd   uint8
	Len   uint8
	Chip  uint8
	Reg   uint8
	Value uint32
}

// regReadType is the packed body of a register read, chain inactive or set
// chip address frame.
type regReadType struct {
	Cmd  uint8
	Len  uint8
	Chip uint8
	Reg  uint8
}

// RegReply is a decoded register read response.
type RegReply struct {
	Value uint32
	Chip  uint8
	Reg   uint8
}

// NonceReply is a decoded nonce return. Version carries bits 28:13 of the
// rolled version word and is meaningful only when version rolling is on.
type NonceReply struct {
	Nonce    uint32
	Midstate uint8
	JobId    uint8
	Version  uint16
}

// ChainIO drives one hash board chain over its tty. A reader goroutine
// splits the byte stream into response frames and queues them; writes go
// through a buffered channel so sequence emission never blocks on the
// device.
type ChainIO struct {
	brdChainId uint8

	devName  string
	devFile  *os.File
	baudRate uint32

	qReg   *Fifo // register replies
	qNonce *Fifo // nonce returns

	chWrite chan []byte

	wrMutex  sync.Mutex
	shutdown chan struct{}
	wg       sync.WaitGroup
	running  bool

	rxBytes  uint64
	rxFrames uint64
	rxBad    uint64
	txFrames uint64
}
