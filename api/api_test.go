package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"chainctl/config"
	"chainctl/device"
)

func TestPrepareJSONResponse(t *testing.T) {
	buf, err := PrepareJSONResponse(Response{Status: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if buf[len(buf)-1] != '\n' {
		t.Error("response not newline terminated")
	}
	var resp Response
	if err := json.Unmarshal(buf, &resp); err != nil {
		t.Fatalf("response does not parse: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status %q", resp.Status)
	}
}

func dispatchOne(t *testing.T, a *API, req *Request, reqErr error) Response {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go a.dispatch(nil, server, req, nil, reqErr)

	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("response does not parse: %v", err)
	}
	return resp
}

func testAPI() *API {
	return New(device.NewDeviceManager(&config.Config{}))
}

func TestDispatchVersion(t *testing.T) {
	resp := dispatchOne(t, testAPI(), &Request{Command: "version"}, nil)
	if resp.Status != "ok" {
		t.Errorf("version status %q error %q", resp.Status, resp.Error)
	}
}

func TestDispatchSummaryEmpty(t *testing.T) {
	resp := dispatchOne(t, testAPI(), &Request{Command: "summary"}, nil)
	if resp.Status != "ok" {
		t.Errorf("summary status %q error %q", resp.Status, resp.Error)
	}
}

func TestDispatchBoardsEmpty(t *testing.T) {
	resp := dispatchOne(t, testAPI(), &Request{Command: "boards"}, nil)
	if resp.Status != "ok" {
		t.Errorf("boards status %q error %q", resp.Status, resp.Error)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	resp := dispatchOne(t, testAPI(), &Request{Command: "reboot"}, nil)
	if resp.Status != "error" || !strings.Contains(resp.Error, "unknown command") {
		t.Errorf("got status %q error %q", resp.Status, resp.Error)
	}
}

func TestDispatchChipsMissingParameter(t *testing.T) {
	resp := dispatchOne(t, testAPI(), &Request{Command: "chips"}, nil)
	if resp.Status != "error" || !strings.Contains(resp.Error, "missing parameter") {
		t.Errorf("got status %q error %q", resp.Status, resp.Error)
	}
}

func TestDispatchChipsNoSuchBoard(t *testing.T) {
	req := &Request{Command: "chips", Parameter: map[string]interface{}{"board": 7}}
	resp := dispatchOne(t, testAPI(), req, nil)
	if resp.Status != "error" || !strings.Contains(resp.Error, "not exist") {
		t.Errorf("got status %q error %q", resp.Status, resp.Error)
	}
}

func TestDispatchBadRequest(t *testing.T) {
	resp := dispatchOne(t, testAPI(), &Request{}, errors.New("unexpected end of JSON input"))
	if resp.Status != "error" || !strings.Contains(resp.Error, "bad request") {
		t.Errorf("got status %q error %q", resp.Status, resp.Error)
	}
}

func TestServerRoundTrip(t *testing.T) {
	a := testAPI()
	if err := a.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	conn, err := net.Dial("tcp", a.srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	rd := bufio.NewReader(conn)

	fmt.Fprint(conn, "{\"command\":\"version\"}\n")
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("version over tcp: status %q error %q", resp.Status, resp.Error)
	}

	// a second command on the same connection, the server keeps it open
	fmt.Fprint(conn, "{\"command\":\"quit\"}\n")
	if _, err = rd.ReadString('\n'); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.QuitRequested():
	case <-time.After(2 * time.Second):
		t.Error("quit command did not signal")
	}
}

func TestServerFlushesUnterminatedFrame(t *testing.T) {
	a := testAPI()
	if err := a.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	conn, err := net.Dial("tcp", a.srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// no trailing newline, the read timeout flushes it
	fmt.Fprint(conn, "{\"command\":\"version\"}")
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status %q error %q", resp.Status, resp.Error)
	}
}
