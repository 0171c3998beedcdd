package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/veyra/stitchd/errors"
)

// maxLineBytes bounds one streaming request. Oversized lines close only
// the offending connection.
const maxLineBytes = 4 * 1024 * 1024

// StreamServer is the persistent-connection, line-oriented transport:
// one JSON request per inbound line, one JSON response per outbound
// line. Responses are written in request order (strict one-in-one-out),
// and request_id is echoed when the client supplies one.
type StreamServer struct {
	dispatcher *Dispatcher
}

// NewStreamServer creates the TCP streaming transport.
func NewStreamServer(d *Dispatcher) *StreamServer {
	return &StreamServer{dispatcher: d}
}

// Serve accepts connections until ctx is done or the listener fails.
// Each connection is handled by its own goroutine.
func (s *StreamServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.Wrap(err, "accept stream connection")
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *StreamServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	s.dispatcher.log.Debugw("Stream connection opened", "peer", peer)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			// Malformed input fails this request only; the connection
			// and the listener live on.
			if werr := encoder.Encode(Fail("", errors.NewValidation("invalid json: %v", err))); werr != nil {
				break
			}
			continue
		}

		resp := s.dispatcher.Handle(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			// Client went away; the dispatched work is not cancelled,
			// only this response is discarded.
			break
		}
	}

	if err := scanner.Err(); err != nil {
		s.dispatcher.log.Warnw("Stream connection error", "peer", peer, "error", err)
	}
	s.dispatcher.log.Debugw("Stream connection closed", "peer", peer)
}
