package asicio

import (
	"bytes"
	"testing"
)

func TestPackBigEndian(t *testing.T) {
	w := regWriteType{
		Cmd:   CMD_WRITE_ALL,
		Len:   FRAME_LEN_WRITE - 2,
		Chip:  0,
		Reg:   0x14,
		Value: 0x000000FF,
	}
	buf, err := Pack(&w)
	if err != nil {
		t.Fatalf("pack err %v", err)
	}
	want := []byte{0x51, 0x09, 0x00, 0x14, 0x00, 0x00, 0x00, 0xFF}
	if !bytes.Equal(buf, want) {
		t.Fatalf("packed %x, want %x", buf, want)
	}
}

func TestUnpackReply(t *testing.T) {
	raw := []byte{0x12, 0x34, 0x56, 0x78, 0x05, 0x07, 0x1F, 0xFF}
	var resp NonceReply
	n, err := Unpack(raw, &resp)
	if err != nil {
		t.Fatalf("unpack err %v", err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d of %d", n, len(raw))
	}
	if resp.Nonce != 0x12345678 || resp.Midstate != 5 || resp.JobId != 7 || resp.Version != 0x1FFF {
		t.Fatalf("decoded %+v", resp)
	}
}

func TestUnpackNeedsPointer(t *testing.T) {
	var resp RegReply
	if _, err := Unpack([]byte{1, 2, 3, 4, 5, 6}, resp); err == nil {
		t.Fatal("unpack accepted a non-pointer")
	}
}
