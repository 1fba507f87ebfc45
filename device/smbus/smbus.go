// Package smbus talks SMBus over the periph.io I2C stack. It avoids
// cgo, unsafe and raw syscalls.
package smbus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	// SMBus block reads carry at most this much payload
	BLOCK_LEN = 16
)

// Conn is one SMBus connection: a bus handle plus the default device
// address and the PEC policy. The mutex serializes transactions, several
// callers share a bus.
type Conn struct {
	busFile string
	bus     i2c.BusCloser
	mu      sync.Mutex

	addr     uint8
	useTxPEC bool
	useRxPEC bool
}

// Open claims /dev/i2c-<bus> for the device at addr.
func Open(bus int, addr uint8) (*Conn, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}

	busFile := fmt.Sprintf("/dev/i2c-%d", bus)
	b, err := i2creg.Open(busFile)
	if err != nil {
		return nil, err
	}

	return &Conn{
		busFile: busFile,
		bus:     b,
		addr:    addr,
	}, nil
}

// SetTxPEC appends a PEC byte to every write.
func (c *Conn) SetTxPEC(usePEC bool) {
	c.useTxPEC = usePEC
}

// SetRxPEC verifies a trailing PEC byte on every read.
func (c *Conn) SetRxPEC(usePEC bool) {
	c.useRxPEC = usePEC
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus.Close()
}

// ReadN reads n bytes of command cmd from the device at addr.
func (c *Conn) ReadN(addr, cmd uint8, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// periph addresses are 16 bit, 7 bit devices just zero extend
	d := &i2c.Dev{Addr: uint16(addr), Bus: c.bus}

	read := make([]byte, n)
	if err := d.Tx([]byte{cmd}, read); err != nil {
		return nil, err
	}

	if c.useRxPEC {
		if err := CheckPEC(addr, READ, append([]byte{cmd}, read...)); err != nil {
			return nil, err
		}
	}
	return read, nil
}

// WriteN writes cmd followed by data to the device at addr.
func (c *Conn) WriteN(addr, cmd uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := append([]byte{cmd}, data...)
	if c.useTxPEC {
		var err error
		if buf, err = AppendPEC(addr, WRITE, buf); err != nil {
			return err
		}
	}

	d := &i2c.Dev{Addr: uint16(addr), Bus: c.bus}
	_, err := d.Write(buf)
	return err
}

// ReadReg reads one 8-bit register.
func (c *Conn) ReadReg(addr, cmd uint8) (uint8, error) {
	b, err := c.ReadN(addr, cmd, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadWord reads one 16-bit register. SMBus words go LSB first.
func (c *Conn) ReadWord(addr, cmd uint8) (uint16, error) {
	b, err := c.ReadN(addr, cmd, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[1])<<8 | uint16(b[0]), nil
}

// ReadBlockData reads a BLOCK_LEN byte block. Byte order interpretation
// is left to the caller.
func (c *Conn) ReadBlockData(addr, cmd uint8) ([]byte, error) {
	return c.ReadN(addr, cmd, BLOCK_LEN)
}

// WriteReg writes one 8-bit register.
func (c *Conn) WriteReg(addr, cmd, data uint8) error {
	return c.WriteN(addr, cmd, []byte{data})
}

// WriteWord writes one 16-bit register, LSB first.
func (c *Conn) WriteWord(addr, cmd uint8, data uint16) error {
	return c.WriteN(addr, cmd, []byte{uint8(data), uint8(data >> 8)})
}

// SendCmd writes a bare command with no payload.
func (c *Conn) SendCmd(addr, cmd uint8) error {
	return c.WriteN(addr, cmd, nil)
}
