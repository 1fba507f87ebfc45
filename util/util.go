package util

import (
	"fmt"
	"math"
	"strings"
)

// HexDump renders a frame as space separated hex bytes for log output.
func HexDump(buf []byte) string {
	var sb strings.Builder
	for i, b := range buf {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// ClosestPowerOf2 returns the 2's power floor value of an argument(n)
func ClosestPowerOf2(n uint64) uint64 {
	exponent := math.Floor(math.Log2(float64(n)))
	result := uint64(math.Pow(2, exponent))
	return result
}
