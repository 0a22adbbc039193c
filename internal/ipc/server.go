package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Handler processes one validated control request against the live daemon.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// requestDeadline bounds how long a client may take to deliver one command
// and read its response. Stuck clients must never pin a connection open.
const requestDeadline = 2 * time.Second

// Serve accepts control clients until ctx cancellation or listener close.
// Malformed and unknown commands are rejected here, so handlers only ever
// see the daemon's real command surface.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, conn, handler)
		}()
	}
}

// serveConn runs one request/response exchange and closes the connection.
func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestDeadline))

	req, err := readRequest(conn)
	if err != nil {
		writeResponse(conn, Errorf("", "%v", err))
		return
	}
	if !req.Command.Known() {
		writeResponse(conn, Errorf("", "unknown command: %s", req.Command))
		return
	}

	writeResponse(conn, handler.Handle(ctx, req))
}

func readRequest(conn net.Conn) (Request, error) {
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Request{}, fmt.Errorf("read request: %v", err)
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %v", err)
	}
	return req, nil
}

func writeResponse(conn net.Conn, resp Response) {
	_ = json.NewEncoder(conn).Encode(resp)
}
