package asicio

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"chainctl/log"
	"chainctl/util"
)

const (
	// poll granularity for the reader; bounds shutdown latency
	pollPeriodMs = 100
	writeRetries = 3
)

var rspMagic = []byte{RSP_PREAMBLE_0, RSP_PREAMBLE_1}

// NewChainIO opens the chain tty and sets it raw at the requested baud
// rate. Call EnableAsyncRW to start the reader and writer.
func NewChainIO(baudRate uint32, devName string, brdChainId uint8) (*ChainIO, error) {
	var cio ChainIO
	var err error

	cio.devName = devName
	cio.baudRate = baudRate
	if cio.devFile, err = os.OpenFile(devName, os.O_RDWR|os.O_SYNC, 0644); err != nil {
		return nil, fmt.Errorf("error accessing device %v", devName)
	}
	cio.brdChainId = brdChainId
	cio.qReg = NewFifo()
	cio.qNonce = NewFifo()
	cio.chWrite = make(chan []byte, 64)
	cio.shutdown = make(chan struct{})

	if err = cio.sttyRaw(baudRate); err != nil {
		log.Errorf("Brd %d stty %v err %v", brdChainId, devName, err)
	}
	return &cio, nil
}

func (cio *ChainIO) sttyRaw(baudRate uint32) error {
	strBr := fmt.Sprintf("%d", baudRate)
	var cmd *exec.Cmd
	if runtime.GOOS != "darwin" {
		cmd = exec.Command("stty", "-F", cio.devName, "raw", strBr)
	} else {
		cmd = exec.Command("stty", "-f", cio.devName, "raw", strBr) // For Mac
	}
	return cmd.Run()
}

// SetBaudRate reconfigures the host side of the link. The chips must have
// been switched to the new rate first.
func (cio *ChainIO) SetBaudRate(baudRate uint32) error {
	if err := cio.sttyRaw(baudRate); err != nil {
		return err
	}
	cio.baudRate = baudRate
	return nil
}

func (cio *ChainIO) BaudRate() uint32 {
	return cio.baudRate
}

func (cio *ChainIO) write(msg []byte) error {
	var err error
	cio.wrMutex.Lock()
	defer cio.wrMutex.Unlock()
	for retry := writeRetries; retry > 0; retry-- {
		_, err = cio.devFile.Write(msg)
		if err == nil {
			if retry < writeRetries {
				log.Infof("write: succeeded on retry %d", writeRetries-retry)
			}
			cio.txFrames++
			return nil
		}
	}
	return err
}

// Write sends one frame synchronously. Sequence execution uses this so the
// inter frame delays actually pace the bus.
func (cio *ChainIO) Write(msg []byte) error {
	log.Debugf("Brd %d tx %s", cio.brdChainId, util.HexDump(msg))
	return cio.write(msg)
}

// SendAsync queues a frame for the writer goroutine. Monitoring polls use
// this so they never stall the caller.
func (cio *ChainIO) SendAsync(msg []byte) {
	select {
	case cio.chWrite <- msg:
	default:
		log.Errorf("Brd %d write queue full, frame dropped", cio.brdChainId)
	}
}

// WriteIdle pushes n zero bytes down the line to let out-of-sync chips
// resynchronize on the next preamble.
func (cio *ChainIO) WriteIdle(n int) error {
	msg := make([]byte, n)
	return cio.write(msg)
}

// ClearReplies drops all queued responses, stale after a bus reset.
func (cio *ChainIO) ClearReplies() {
	cio.qReg.Clear()
	cio.qNonce.Clear()
}

// PopRegReply returns the next register reply, nil when the queue is empty.
func (cio *ChainIO) PopRegReply() *RegReply {
	r := cio.qReg.Pop()
	if r == nil {
		return nil
	}
	resp, err := CheckRegReply(r.([]byte))
	if err != nil {
		cio.rxBad++
		log.Debugf("Brd %d dropped reg reply %v", cio.brdChainId, err)
		return nil
	}
	return resp
}

// PopNonceReply returns the next nonce return, nil when the queue is empty.
func (cio *ChainIO) PopNonceReply() *NonceReply {
	r := cio.qNonce.Pop()
	if r == nil {
		return nil
	}
	resp, err := CheckNonceReply(r.([]byte))
	if err != nil {
		cio.rxBad++
		log.Debugf("Brd %d dropped nonce reply %v", cio.brdChainId, err)
		return nil
	}
	return resp
}

// chainRead reassembles response frames from the tty byte stream. Frames
// start with AA 55; a register reply is 9 bytes with bit 7 of the CRC byte
// clear, a nonce return 11 bytes with it set. The CRC arbitrates when the
// shape is ambiguous.
func (cio *ChainIO) chainRead() {
	buf := make([]byte, 1024)
	var acc []byte

	for {
		select {
		case <-cio.shutdown:
			return
		default:
		}

		pollfd := []unix.PollFd{{Fd: int32(cio.devFile.Fd()), Events: unix.POLLIN}}
		ret, _ := unix.Poll(pollfd, pollPeriodMs)
		if ret <= 0 || pollfd[0].Revents&unix.POLLIN == 0 {
			continue
		}
		n, err := cio.devFile.Read(buf)
		if err != nil || n <= 0 {
			continue
		}
		cio.rxBytes += uint64(n)
		acc = append(acc, buf[:n]...)
		acc = cio.extractFrames(acc)
	}
}

func (cio *ChainIO) extractFrames(acc []byte) []byte {
	for {
		idx := bytes.Index(acc, rspMagic)
		if idx < 0 {
			// keep the tail byte in case a preamble is split across reads
			if len(acc) > 1 {
				acc = acc[len(acc)-1:]
			}
			return acc
		}
		if idx > 0 {
			log.Debugf("Brd %d dropped %dB before preamble %x", cio.brdChainId, idx, acc[:idx])
			acc = acc[idx:]
		}
		if len(acc) < RSP_LEN_REG {
			return acc
		}

		if acc[RSP_LEN_REG-1]&RSP_NONCE_FLAG == 0 &&
			Crc5(acc[2:RSP_LEN_REG-1]) == acc[RSP_LEN_REG-1]&0x1F {
			frame := make([]byte, RSP_LEN_REG)
			copy(frame, acc)
			cio.qReg.Push(frame)
			cio.rxFrames++
			acc = acc[RSP_LEN_REG:]
			continue
		}

		if len(acc) < RSP_LEN_NONCE {
			return acc
		}
		if acc[RSP_LEN_NONCE-1]&RSP_NONCE_FLAG != 0 &&
			Crc5(acc[2:RSP_LEN_NONCE-1]) == acc[RSP_LEN_NONCE-1]&0x1F {
			frame := make([]byte, RSP_LEN_NONCE)
			copy(frame, acc)
			cio.qNonce.Push(frame)
			cio.rxFrames++
			acc = acc[RSP_LEN_NONCE:]
			continue
		}

		// neither shape checks out, skip this preamble and rescan
		cio.rxBad++
		log.Debugf("Brd %d bad frame %x", cio.brdChainId, acc[:RSP_LEN_REG])
		acc = acc[2:]
	}
}

func (cio *ChainIO) chainWrite() {
	for {
		select {
		case <-cio.shutdown:
			return
		case msg := <-cio.chWrite:
			if err := cio.write(msg); err != nil {
				log.Errorf("Brd %d write err %v", cio.brdChainId, err)
			}
		}
	}
}

// EnableAsyncRW starts the reader and writer goroutines.
func (cio *ChainIO) EnableAsyncRW() {
	if cio.running {
		return
	}
	cio.running = true
	cio.wg.Add(2)
	go func() {
		defer cio.wg.Done()
		cio.chainRead()
	}()
	go func() {
		defer cio.wg.Done()
		cio.chainWrite()
	}()
}

// Stats reports frame counters since open.
func (cio *ChainIO) Stats() (rxFrames, rxBad, txFrames uint64) {
	return cio.rxFrames, cio.rxBad, cio.txFrames
}

func (cio *ChainIO) Close() error {
	if cio.running {
		close(cio.shutdown)
		cio.wg.Wait()
		cio.running = false
	}
	return cio.devFile.Close()
}
