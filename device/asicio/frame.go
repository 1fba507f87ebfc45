package asicio

import (
	"errors"

	"chainctl/log"
)

var (
	ErrBadFrame = errors.New("ErrBadFrame")
	ErrBadCRC   = errors.New("ErrBadCRC")
)

// Crc5 runs the bus CRC: poly 0x05, init 0x1F, MSB first, over every byte
// between the preamble and the CRC byte itself. The result lives in the low
// 5 bits of the final frame byte.
func Crc5(buf []byte) uint8 {
	crc := uint8(0x1F)
	for _, b := range buf {
		for i := 7; i >= 0; i-- {
			bit := (b >> uint(i)) & 1
			if (crc>>4)&1 != bit {
				crc = ((crc << 1) & 0x1F) ^ 0x05
			} else {
				crc = (crc << 1) & 0x1F
			}
		}
	}
	return crc
}

func sealCmd(v interface{}) []byte {
	body, err := Pack(v)
	if err != nil {
		log.Errorf("pack %T err %v", v, err)
		return nil
	}
	msg := make([]byte, 0, len(body)+3)
	msg = append(msg, CMD_PREAMBLE_0, CMD_PREAMBLE_1)
	msg = append(msg, body...)
	msg = append(msg, Crc5(msg[2:]))
	return msg
}

// PrepareRegWrite builds an 11 byte register write frame. cmd picks
// CMD_WRITE_ONE or CMD_WRITE_ALL; broadcast frames carry chip 0.
func PrepareRegWrite(cmd uint8, chip uint8, reg uint8, value uint32) []byte {
	w := regWriteType{
		Cmd:   cmd,
		Len:   FRAME_LEN_WRITE - 2,
		Chip:  chip,
		Reg:   reg,
		Value: value,
	}
	return sealCmd(&w)
}

// PrepareRegRead builds a 7 byte register read frame. cmd picks
// CMD_READ_ONE or CMD_READ_ALL.
func PrepareRegRead(cmd uint8, chip uint8, reg uint8) []byte {
	r := regReadType{
		Cmd:  cmd,
		Len:  FRAME_LEN_CMD - 2,
		Chip: chip,
		Reg:  reg,
	}
	return sealCmd(&r)
}

// PrepareChainInactive drops every chip off the bus so addresses can be
// assigned from scratch.
func PrepareChainInactive() []byte {
	r := regReadType{
		Cmd: CMD_CHAIN_INACTIVE,
		Len: FRAME_LEN_CMD - 2,
	}
	return sealCmd(&r)
}

// PrepareSetChipAddr hands addr to the first chip that is still
// unaddressed; each chip latches one and passes the rest down the chain.
func PrepareSetChipAddr(addr uint8) []byte {
	r := regReadType{
		Cmd:  CMD_SET_CHIP_ADDR,
		Len:  FRAME_LEN_CMD - 2,
		Chip: addr,
	}
	return sealCmd(&r)
}

// IsNonceReply classifies a response frame: nonce returns set bit 7 of the
// final byte, register replies leave it clear.
func IsNonceReply(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return buf[len(buf)-1]&RSP_NONCE_FLAG != 0
}

func checkReply(buf []byte, want int) error {
	if len(buf) != want {
		return ErrBadFrame
	}
	if buf[0] != RSP_PREAMBLE_0 || buf[1] != RSP_PREAMBLE_1 {
		return ErrBadFrame
	}
	if Crc5(buf[2:want-1]) != buf[want-1]&0x1F {
		return ErrBadCRC
	}
	return nil
}

// CheckRegReply validates and decodes a register read response.
func CheckRegReply(buf []byte) (*RegReply, error) {
	if err := checkReply(buf, RSP_LEN_REG); err != nil {
		return nil, err
	}
	var resp RegReply
	n, err := Unpack(buf[2:RSP_LEN_REG-1], &resp)
	if err != nil {
		return nil, err
	}
	if n != RSP_LEN_REG-3 {
		return nil, ErrBadFrame
	}
	return &resp, nil
}

// CheckNonceReply validates and decodes a nonce return.
func CheckNonceReply(buf []byte) (*NonceReply, error) {
	if err := checkReply(buf, RSP_LEN_NONCE); err != nil {
		return nil, err
	}
	var resp NonceReply
	n, err := Unpack(buf[2:RSP_LEN_NONCE-1], &resp)
	if err != nil {
		return nil, err
	}
	if n != RSP_LEN_NONCE-3 {
		return nil, ErrBadFrame
	}
	return &resp, nil
}
