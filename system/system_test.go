package system

import "testing"

func TestUtsField(t *testing.T) {
	if got := utsField([]byte{'L', 'i', 'n', 'u', 'x', 0, 0}); got != "Linux" {
		t.Errorf("utsField = %q, want Linux", got)
	}
	if got := utsField([]byte{'a', 'b'}); got != "ab" {
		t.Errorf("utsField unterminated = %q, want ab", got)
	}
	if got := utsField(nil); got != "" {
		t.Errorf("utsField(nil) = %q, want empty", got)
	}
}

func TestCloneDetachesBoards(t *testing.T) {
	si := SystemInformation{
		HashBoardCount: 1,
		HashBoardInfo:  []HashBoardInfo{{BoardName: "hb1"}},
	}
	cp := si.clone()
	cp.HashBoardInfo[0].BoardName = "changed"
	if si.HashBoardInfo[0].BoardName != "hb1" {
		t.Error("clone shares the hash board slice")
	}
}
