package device

import "testing"

func TestStatusCode(t *testing.T) {
	vectors := []struct {
		status int
		want   string
	}{
		{STATUS_ALIVE, "Alive"},
		{STATUS_SICK, "Sick"},
		{STATUS_DEAD, "Dead"},
		{STATUS_NOSTART, "NoStart"},
		{STATUS_INIT, "Initialising"},
		{99, "Dead"},
	}
	for _, v := range vectors {
		if got := StatusCode(v.status); got != v.want {
			t.Errorf("StatusCode(%d) = %q, want %q", v.status, got, v.want)
		}
	}
}

func TestDeviceCountsHits(t *testing.T) {
	dev := &Device{ID: 1, Name: "hb1.0", Status: STATUS_ALIVE}

	dev.noteHit(&NonceHit{Nonce: 0x12345678, ChipAddr: 4, Core: 10, SmallCore: 3})
	dev.noteHit(&NonceHit{Nonce: 0x9abcdef0, ChipAddr: 4, Core: 2, SmallCore: 1})
	dev.noteHit(&NonceHit{Nonce: 0x00c0ffee, ChipAddr: 8, Core: 0, SmallCore: 0})

	snap := dev.Snapshot()
	if snap.Hits != 3 {
		t.Errorf("hits = %d, want 3", snap.Hits)
	}
	if snap.ChipStats[4].Hits != 2 || snap.ChipStats[8].Hits != 1 {
		t.Errorf("chip hits = %+v", snap.ChipStats)
	}
	if snap.LastHit.Nonce != 0x00c0ffee || snap.LastHit.ChipAddr != 8 {
		t.Errorf("last hit = %+v", snap.LastHit)
	}
	if snap.Status != "Alive" {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.LastSeen == 0 {
		t.Error("last seen not stamped")
	}

	// the snapshot map is a copy
	snap.ChipStats[4] = ChipStats{}
	if dev.Snapshot().ChipStats[4].Hits != 2 {
		t.Error("snapshot shares the chip map")
	}
}

func TestDeviceRunWithoutBoard(t *testing.T) {
	dev := &Device{ID: 2}
	if dev.Run() {
		t.Error("boardless device claims work")
	}
}

func TestDeviceOpsWithoutBoard(t *testing.T) {
	dev := &Device{ID: 3}
	if err := dev.SetFrequency(nil, 600); err != ErrBoardInitFailure {
		t.Errorf("SetFrequency = %v", err)
	}
	if err := dev.EnableVersionRolling(nil, 0); err != ErrBoardInitFailure {
		t.Errorf("EnableVersionRolling = %v", err)
	}
}
