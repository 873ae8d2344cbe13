package fsmcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// StdIOServer serves the protocol over newline-delimited JSON on a reader
// and writer pair, normally stdin and stdout.
type StdIOServer struct {
	*BaseServer
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
}

// NewStdIOServer creates a new StdIOServer.
func NewStdIOServer(baseServer *BaseServer, in io.Reader, out io.Writer) *StdIOServer {
	s := &StdIOServer{
		BaseServer: baseServer,
		in:         in,
		out:        out,
	}

	s.sendResp = s.sendResponse
	s.sendErr = s.sendError

	return s
}

func (s *StdIOServer) sendResponse(id *json.RawMessage, result interface{}) {
	s.writeMessage(Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
}

func (s *StdIOServer) sendError(id *json.RawMessage, code int, message string, data interface{}) {
	s.writeMessage(Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// writeMessage emits exactly one line. encoding/json escapes control
// characters, so the encoded object never contains a raw newline.
func (s *StdIOServer) writeMessage(resp Response) {
	line, err := json.Marshal(resp)
	if err != nil {
		s.logger.WithErr(err).Error("Failed to marshal response")
		line, err = json.Marshal(Response{
			JSONRPC: jsonRPCVersion,
			ID:      resp.ID,
			Error:   &Error{Code: ErrorCodeInternalError, Message: "Internal error: failed to marshal response"},
		})
		if err != nil {
			return
		}
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(line); err != nil {
		s.logger.WithErr(err).Error("Failed to write response")
	}
}

// Run reads and handles messages until the input ends, the input fails, or
// ctx is cancelled. Messages are handled strictly one at a time, so
// responses leave in request order. Shutdown hooks run before Run returns.
//
// Run returns nil on end of input and on cancellation, and the read error on
// transport failure.
func (s *StdIOServer) Run(ctx context.Context) error {
	ctx, span := StartSpan(ctx, "StdIOServer.Run")
	defer span.End()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)

	go s.readLines(lines, readErr, quit)

	s.logger.WithFields(map[string]interface{}{
		"protocol_version": s.protocolVersion,
		"tools":            s.registry.Len(),
	}).Info("Serving MCP over stdio")

	for {
		// A line may already be buffered when ctx is cancelled; select picks
		// at random, so cancellation is checked before every dispatch too.
		if ctx.Err() != nil {
			s.logger.Info("Shutdown requested")
			s.stop(ctx)
			return nil
		}

		select {
		case <-ctx.Done():
			continue

		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					s.logger.WithErr(err).Error("Transport failure, shutting down")
					s.stop(ctx)
					return fmt.Errorf("read input: %w", err)
				}
				s.logger.Info("End of input, shutting down")
				s.stop(ctx)
				return nil
			}
			if ctx.Err() != nil {
				continue
			}
			s.dispatch(ctx, line)
		}
	}
}

func (s *StdIOServer) readLines(lines chan<- []byte, readErr chan<- error, quit <-chan struct{}) {
	defer close(lines)

	reader := bufio.NewReaderSize(s.in, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case lines <- line:
			case <-quit:
				readErr <- nil
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			readErr <- err
			return
		}
	}
}

// dispatch handles one message. If ctx is cancelled meanwhile, the message
// gets the shutdown timeout to finish; after that its context is cancelled
// and dispatch returns without waiting further.
func (s *StdIOServer) dispatch(ctx context.Context, line []byte) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(map[string]interface{}{"panic": fmt.Sprint(r)}).Error("Recovered from panic while handling message")
			}
		}()
		s.handleMessage(callCtx, line)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.WithFields(map[string]interface{}{
			"timeout": s.shutdownTimeout.String(),
		}).Warn("In-flight message did not finish before the shutdown timeout")
	}
}

func (s *StdIOServer) stop(ctx context.Context) {
	if err := s.Shutdown(ctx); err != nil {
		s.logger.WithErr(err).Warn("Shutdown completed with errors")
	}
}
