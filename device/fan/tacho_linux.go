//go:build linux
// +build linux

package fan

import (
	"os"
	"strconv"
	"time"

	"github.com/warthog618/gpiod"

	"chainctl/device/devhdr"
)

var lines *gpiod.Lines

func startTacho() {
	var offsets []int
	for _, v := range tachoData {
		offsets = append(offsets, v.pinoffset)
	}

	lines, _ = gpiod.RequestLines("gpiochip2", offsets,
		gpiod.WithRisingEdge,
		gpiod.WithEventHandler(eventHandler))

	go func() {
		for {
			time.Sleep(time.Millisecond * 500)
			for ii, v := range tachoData {
				next := (v.cursor + 1) % 8
				v.counter[next] = 0
				v.cursor = next

				fileName := devhdr.FanFileDir + "/speed_" + strconv.Itoa(ii)
				outStr := []byte(strconv.Itoa(GetRPM(ii)) + "\n")
				_ = os.WriteFile(fileName, outStr, 0644)
			}
		}
	}()
}

func eventHandler(evt gpiod.LineEvent) {
	index := pinToIndex[evt.Offset]
	tacho := tachoData[index]

	if tacho != nil {
		tacho.counter[tacho.cursor]++
	}
}
