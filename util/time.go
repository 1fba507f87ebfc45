package util

import "time"

var (
	UpSince = time.Now()
)

func NowInSec() float64 {
	return float64(time.Now().UnixMicro()) / 1000000.0
}

// t2 is now, t1 is time base
func UptimeInSec(t2 float64, t1 float64) float64 {
	if t2 <= t1 {
		return 0.01
	}
	return t2 - t1
}

// SystemUptimeInSec is seconds since the process came up.
func SystemUptimeInSec() float64 {
	return UptimeInSec(NowInSec(), float64(UpSince.UnixMicro())/1000000.0)
}
