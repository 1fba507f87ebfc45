package asicio

import "testing"

func TestFifoOrder(t *testing.T) {
	ff := NewFifo()
	if ff.Pop() != nil {
		t.Fatal("pop on empty fifo")
	}
	ff.Push(1)
	ff.Push(2)
	ff.Push(3)
	if ff.Len() != 3 {
		t.Fatalf("len %d, want 3", ff.Len())
	}
	for i := 1; i <= 3; i++ {
		v := ff.Pop()
		if v.(int) != i {
			t.Fatalf("pop %v, want %d", v, i)
		}
	}
	if ff.Pop() != nil {
		t.Fatal("fifo not empty after drain")
	}
	ff.Push(4)
	ff.Clear()
	if ff.Len() != 0 || ff.Pop() != nil {
		t.Fatal("clear left entries behind")
	}
}
