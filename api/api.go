package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"chainctl/device"
	"chainctl/device/devhdr"
	"chainctl/device/fan"
	"chainctl/device/psu"
	"chainctl/device/temperature"
	"chainctl/log"
	"chainctl/system"
	"chainctl/version"
)

const shutdownTimeout = 2 * time.Second

// Response is the envelope for every reply.
type Response struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

func okResponse(data interface{}) Response {
	return Response{Status: "ok", Data: data}
}

func errResponse(err error) Response {
	return Response{Status: "error", Error: err.Error()}
}

// API is the local control endpoint of the daemon.
type API struct {
	mgr      *device.DeviceManager
	srv      *Server
	quit     chan struct{}
	quitOnce sync.Once
}

func New(mgr *device.DeviceManager) *API {
	return &API{mgr: mgr, quit: make(chan struct{})}
}

func (a *API) Start(addr string) error {
	srv, err := NewServer(addr, a.dispatch, true)
	if err != nil {
		return err
	}
	a.srv = srv
	go srv.ListenAndServe()
	log.Infof("API listening on %s", srv.Addr())
	return nil
}

func (a *API) Stop() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.srv.Shutdown(ctx)
}

// QuitRequested closes once a client has sent the quit command.
func (a *API) QuitRequested() <-chan struct{} {
	return a.quit
}

func (a *API) dispatch(_ *Server, conn net.Conn, req *Request, _ []byte, err error) error {
	if err != nil {
		return reply(conn, errResponse(fmt.Errorf("bad request: %v", err)))
	}
	log.Debugf("API command %q from %v", req.Command, conn.RemoteAddr())

	var resp Response
	switch req.Command {
	case "summary":
		resp = a.summary()
	case "boards", "devs":
		resp = a.boards()
	case "chips":
		resp = a.chips(req)
	case "frequency":
		resp = a.setFrequency(req)
	case "versionrolling":
		resp = a.versionRolling(req)
	case "fan":
		resp = a.fans(req)
	case "psu":
		resp = a.psuStatus()
	case "temps":
		resp = a.temps()
	case "system":
		resp = a.systemInfo()
	case "version":
		resp = okResponse(version.GetVersionConfig())
	case "quit":
		err = reply(conn, okResponse("shutting down"))
		a.quitOnce.Do(func() { close(a.quit) })
		return err
	default:
		resp = errResponse(fmt.Errorf("unknown command %q", req.Command))
	}
	return reply(conn, resp)
}

func reply(conn net.Conn, resp Response) error {
	buf, err := PrepareJSONResponse(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

// decodeParameter remarshals the free-form parameter into the handler's
// own argument struct.
func decodeParameter(req *Request, into interface{}) error {
	if req.Parameter == nil {
		return errors.New("missing parameter")
	}
	buf, err := json.Marshal(req.Parameter)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, into)
}

func (a *API) device(id uint) (*device.Device, error) {
	dev := a.mgr.Device(id)
	if dev == nil {
		return nil, fmt.Errorf("board %d: %w", id, device.ErrDevNotExist)
	}
	return dev, nil
}

type summaryData struct {
	Uptime         float64 `json:"uptime"`
	Boards         int     `json:"boards"`
	Alive          int     `json:"alive"`
	Chips          int     `json:"chips"`
	Hits           uint64  `json:"hits"`
	TheoreticalTHS float64 `json:"theoretical_ths"`
	PsuOn          bool    `json:"psu_on"`
	PsuAlarm       bool    `json:"psu_alarm"`
	FanAlarm       bool    `json:"fan_alarm"`
	TempAlarm      bool    `json:"temp_alarm"`
}

func (a *API) summary() Response {
	sum := summaryData{
		Uptime:    a.mgr.Uptime(),
		PsuOn:     psu.PsuIsOn(),
		PsuAlarm:  psu.PsuAlarmState(),
		FanAlarm:  fan.FanAlarmState(),
		TempAlarm: temperature.TempTooHigh(),
	}
	for _, dev := range a.mgr.Devices() {
		snap := dev.Snapshot()
		sum.Boards++
		if dev.Status == device.STATUS_ALIVE {
			sum.Alive++
		}
		sum.Chips += snap.Chips
		sum.Hits += snap.Hits
		if dev.Board != nil {
			sum.TheoreticalTHS += dev.Board.Chip().TheoreticalHashrate() / 1e12
		}
	}
	return okResponse(sum)
}

func (a *API) boards() Response {
	snaps := []device.DeviceSnapshot{}
	for _, dev := range a.mgr.Devices() {
		snap := dev.Snapshot()
		snap.ChipStats = nil // per chip detail is the chips command
		snaps = append(snaps, snap)
	}
	return okResponse(snaps)
}

func (a *API) chips(req *Request) Response {
	var param struct {
		Board uint `json:"board"`
	}
	if err := decodeParameter(req, &param); err != nil {
		return errResponse(err)
	}
	dev, err := a.device(param.Board)
	if err != nil {
		return errResponse(err)
	}
	return okResponse(dev.Snapshot().ChipStats)
}

func (a *API) setFrequency(req *Request) Response {
	var param struct {
		Board uint    `json:"board"`
		MHz   float64 `json:"mhz"`
	}
	if err := decodeParameter(req, &param); err != nil {
		return errResponse(err)
	}
	if param.MHz <= 0 {
		return errResponse(fmt.Errorf("bad frequency %.2f", param.MHz))
	}
	dev, err := a.device(param.Board)
	if err != nil {
		return errResponse(err)
	}
	if err = dev.SetFrequency(a.mgr.Context(), param.MHz); err != nil {
		return errResponse(err)
	}
	log.Infof("API set board %d frequency to %.2f MHz", param.Board, param.MHz)
	return okResponse(fmt.Sprintf("board %d ramping to %.2f MHz", param.Board, param.MHz))
}

func (a *API) versionRolling(req *Request) Response {
	var param struct {
		Board uint   `json:"board"`
		Mask  uint32 `json:"mask"`
	}
	if err := decodeParameter(req, &param); err != nil {
		return errResponse(err)
	}
	dev, err := a.device(param.Board)
	if err != nil {
		return errResponse(err)
	}
	if err = dev.EnableVersionRolling(a.mgr.Context(), param.Mask); err != nil {
		return errResponse(err)
	}
	log.Infof("API enabled version rolling on board %d mask 0x%08x", param.Board, param.Mask)
	return okResponse(fmt.Sprintf("board %d version rolling on", param.Board))
}

type fanData struct {
	Fan     int    `json:"fan"`
	Percent uint32 `json:"percent"`
	RPM     int    `json:"rpm"`
}

func (a *API) fans(req *Request) Response {
	if req.Parameter == nil { // no parameter reads the state
		fans := []fanData{}
		for ii := 0; ii < fan.Count; ii++ {
			fans = append(fans, fanData{Fan: ii, Percent: fan.GetSpeed(ii), RPM: fan.GetRPM(ii)})
		}
		return okResponse(fans)
	}

	var param struct {
		Fan     int    `json:"fan"`
		Percent uint32 `json:"percent"`
	}
	if err := decodeParameter(req, &param); err != nil {
		return errResponse(err)
	}
	refused, err := fan.SetSpeed(param.Fan, param.Percent, true)
	if err != nil {
		return errResponse(err)
	}
	if refused {
		return errResponse(fmt.Errorf("fan %d slowdown refused, hash power is on", param.Fan))
	}
	return okResponse(fmt.Sprintf("fan %d set to %d%%", param.Fan, param.Percent))
}

type psuData struct {
	On          bool     `json:"on"`
	Alarm       bool     `json:"alarm"`
	SingleInput bool     `json:"single_input"`
	Model       string   `json:"model"`
	Serial      string   `json:"serial"`
	PriFwRev    string   `json:"pri_fw_rev"`
	SecFwRev    string   `json:"sec_fw_rev"`
	VoutMin     float32  `json:"vout_min"`
	VoutMax     float32  `json:"vout_max"`
	PowerMax    float32  `json:"power_max"`
	Last        psu.Data `json:"last"`
	LastValid   bool     `json:"last_valid"`
}

func (a *API) psuStatus() Response {
	last, valid := psu.LastStatus()
	return okResponse(psuData{
		On:          psu.PsuIsOn(),
		Alarm:       psu.PsuAlarmState(),
		SingleInput: psu.IsSingleInput(),
		Model:       string(psu.MfrModel),
		Serial:      string(psu.MfrSerial),
		PriFwRev:    string(psu.PriFwRev),
		SecFwRev:    string(psu.SecFwRev),
		VoutMin:     psu.GetMinVout(),
		VoutMax:     psu.GetMaxVout(),
		PowerMax:    psu.GetMaxPower(),
		Last:        last,
		LastValid:   valid,
	})
}

type sensorTemp struct {
	Desc    string  `json:"desc"`
	Celsius float64 `json:"celsius"`
}

type boardTemps struct {
	Board   int          `json:"board"`
	Sensors []sensorTemp `json:"sensors"`
}

type tempsData struct {
	ControlBoard float64      `json:"control_board"`
	Boards       []boardTemps `json:"boards"`
	Alarm        bool         `json:"alarm"`
}

func (a *API) temps() Response {
	out := tempsData{Alarm: temperature.TempTooHigh()}
	cb, err := temperature.ReadCBTemp()
	if err != nil {
		return errResponse(err)
	}
	out.ControlBoard = cb
	for ii := 1; ii <= int(devhdr.GetHashBoardCount()); ii++ {
		bt := boardTemps{Board: ii}
		for jj, t := range temperature.ReadHBTemps(ii) {
			bt.Sensors = append(bt.Sensors, sensorTemp{Desc: temperature.HbTempDesc[jj], Celsius: t})
		}
		out.Boards = append(out.Boards, bt)
	}
	return okResponse(out)
}

func (a *API) systemInfo() Response {
	si, err := system.GetSystemInfo()
	if err != nil {
		return errResponse(err)
	}
	return okResponse(si)
}
