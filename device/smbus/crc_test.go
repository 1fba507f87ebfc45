package smbus

import (
	"bytes"
	"testing"
)

func TestCalcCRC8CheckValue(t *testing.T) {
	// standard check value for CRC-8 poly 0x07
	if got := CalcCRC8([]byte("123456789")); got != 0xF4 {
		t.Errorf("CalcCRC8 = %#02x, want 0xf4", got)
	}
	if got := CalcCRC8(nil); got != 0 {
		t.Errorf("CalcCRC8(nil) = %#02x, want 0", got)
	}
}

func TestTableMatchesBitwise(t *testing.T) {
	for i := 0; i < 256; i++ {
		want := CalcCRC8([]byte{uint8(i)})
		if crc8Table[i] != want {
			t.Fatalf("crc8Table[%#02x] = %#02x, want %#02x", i, crc8Table[i], want)
		}
	}
}

func TestCalcPEC(t *testing.T) {
	cases := []struct {
		addr uint8
		rdwr uint8
		data []byte
		want uint8
	}{
		{0x58, WRITE, []byte{0x21, 0x00, 0x08}, 0x88},
		{0x58, READ, []byte{0x88}, 0xEB},
		{0x10, WRITE, []byte{0x01, 0x80}, 0xDF},
	}
	for _, c := range cases {
		got, err := CalcPEC(c.addr, c.rdwr, c.data)
		if err != nil {
			t.Fatalf("CalcPEC(%#02x, %d, %x): %v", c.addr, c.rdwr, c.data, err)
		}
		if got != c.want {
			t.Errorf("CalcPEC(%#02x, %d, %x) = %#02x, want %#02x", c.addr, c.rdwr, c.data, got, c.want)
		}
	}
}

func TestCalcPECRejectsBadArgs(t *testing.T) {
	if _, err := CalcPEC(0x80, WRITE, nil); err == nil {
		t.Error("address above 0x7f accepted")
	}
	if _, err := CalcPEC(0x58, 2, nil); err == nil {
		t.Error("rdwr 2 accepted")
	}
}

func TestAppendAndCheckPEC(t *testing.T) {
	data := []byte{0x21, 0x34, 0x12}
	sealed, err := AppendPEC(0x58, WRITE, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed) != len(data)+1 {
		t.Fatalf("sealed length %d", len(sealed))
	}
	if !bytes.Equal(sealed[:len(data)], data) {
		t.Fatal("payload changed")
	}
	if err := CheckPEC(0x58, WRITE, sealed); err != nil {
		t.Errorf("CheckPEC on sealed data: %v", err)
	}

	sealed[len(sealed)-1] ^= 0x01
	if err := CheckPEC(0x58, WRITE, sealed); err == nil {
		t.Error("corrupted PEC accepted")
	}

	if err := CheckPEC(0x58, WRITE, []byte{0x01}); err == nil {
		t.Error("short data accepted")
	}
}
