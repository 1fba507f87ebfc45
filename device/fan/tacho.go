package fan

// The gpiod event callback carries no user argument or chip handle, so the
// pin offset is the only key back to a fan. Tachs on different gpio chips
// with the same offset would collide; ours all sit on one chip.
type tachometer struct {
	pinoffset int

	counter [8]int // edge counts for the last 4 seconds, 0.5s per slot
	cursor  int    // current slot 0-7
}

var tachoData = make(map[int]*tachometer)
var pinToIndex = make(map[int]int)

func addTacho(index int, pinoffset int) {
	tachoData[index] = &tachometer{pinoffset: pinoffset}
	pinToIndex[pinoffset] = index
}

// GetRPM averages the last three full slots. Two tach pulses per
// revolution, so RPM = (pulses in 1.5s) * 40 / 2.
func GetRPM(index int) int {
	v := tachoData[index]
	if v == nil {
		return -1
	}

	prev1 := (v.cursor + 7) % 8
	prev2 := (prev1 + 7) % 8
	prev3 := (prev2 + 7) % 8

	return (v.counter[prev3] + v.counter[prev2] + v.counter[prev1]) * 20
}
