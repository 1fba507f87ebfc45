package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"chainctl/log"
)

// Request is one line-JSON command from a client.
type Request struct {
	Command   string      `json:"command"`
	Parameter interface{} `json:"parameter,omitempty"`
}

// HandlerFunc serves one decoded request. The raw line and the decode
// error are passed through so the handler can answer malformed input.
type HandlerFunc func(*Server, net.Conn, *Request, []byte, error) error

type Server struct {
	listener      net.Listener
	done          chan struct{}
	wg            sync.WaitGroup
	handler       HandlerFunc
	connKeepAlive bool
	ReadTimeout   time.Duration
}

func NewServer(addr string, handler HandlerFunc, keepAlive bool) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener:      l,
		done:          make(chan struct{}),
		handler:       handler,
		connKeepAlive: keepAlive,
		ReadTimeout:   100 * time.Millisecond,
	}
	if s.handler == nil {
		s.handler = func(_ *Server, conn net.Conn, req *Request, _ []byte, err error) error {
			buf, _ := PrepareJSONResponse(map[string]interface{}{"command": req.Command, "error": err})
			_, werr := conn.Write(buf)
			return werr
		}
	}
	s.wg.Add(1)
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) ListenAndServe() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Errorf("Accept error %v", err)
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			s.handleConnection(conn)
			s.wg.Done()
		}()
	}
}

// Shutdown stops accepting, wakes the connection loops and waits for them
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) {
	if s == nil {
		return
	}
	close(s.done)
	s.listener.Close()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		log.Errorf("API connections did not drain: %v", ctx.Err())
	}
}

// handleConnection reads newline-framed JSON requests. A read timeout with
// buffered bytes flushes the frame anyway, so clients which forget the
// terminating newline still get an answer.
func (s *Server) handleConnection(conn net.Conn) {
	log.Debug("Connection from ", conn.RemoteAddr())
	defer conn.Close()

	for {
		buf := make([]byte, 0, 65536)
		tmp := make([]byte, 16384)
		var err error
		n := 0
		for {
			select {
			case <-s.done:
				return
			default:
			}
			if err = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
				log.Debugf("err %v", err)
			}
			n, err = conn.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if bytes.ContainsRune(buf, '\n') {
				break
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if len(buf) == 0 {
					continue
				}
				if buf[len(buf)-1] != '\n' {
					buf = append(buf, '\n')
				}
				err = nil
				break
			}
			if err != nil {
				break
			}
		}

		if err != nil {
			log.Debugf("handleConnection %v after %d bytes", err, len(buf))
			break
		}

		req := Request{}
		err = json.Unmarshal(buf, &req)

		if err = s.handler(s, conn, &req, buf, err); err != nil {
			log.Error(err)
		}

		if !s.connKeepAlive {
			// one connection per command as default
			break
		}
	}

	log.Debug("Server disconnected from ", conn.RemoteAddr())
}

// PrepareJSONResponse marshals v and guarantees the line framing.
func PrepareJSONResponse(v interface{}) ([]byte, error) {
	jsonResponse, err := json.Marshal(v)
	if err != nil {
		log.Errorf("err %v", err)
		return nil, err
	}
	if n := len(jsonResponse); n > 0 && jsonResponse[n-1] != '\n' {
		jsonResponse = append(jsonResponse, '\n')
	}
	return jsonResponse, nil
}
