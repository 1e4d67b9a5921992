package reader

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial reads UIDs from a line-oriented serial reader that prints one hex UID per tap.
// The port is opened lazily and reopened after a failure.
type Serial struct {
	mu      sync.Mutex
	device  string
	baud    int
	timeout time.Duration
	open    func(device string, mode *serial.Mode) (serial.Port, error)
	port    serial.Port
	buf     []byte
}

// NewSerial creates a serial reader for device.
func NewSerial(device string, baud int) *Serial {
	if baud <= 0 {
		baud = 9600
	}
	return &Serial{
		device:  device,
		baud:    baud,
		timeout: 100 * time.Millisecond,
		open:    serial.Open,
	}
}

// Poll implements Reader. It returns the newest complete line received since the last poll.
func (s *Serial) Poll(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.port == nil {
		port, err := s.open(s.device, &serial.Mode{BaudRate: s.baud})
		if err != nil {
			return []Result{{ReaderID: s.device, Status: StatusFailed, Err: fmt.Errorf("open %s: %w", s.device, err)}}, nil
		}
		if err := port.SetReadTimeout(s.timeout); err != nil {
			_ = port.Close()
			return []Result{{ReaderID: s.device, Status: StatusFailed, Err: fmt.Errorf("set timeout: %w", err)}}, nil
		}
		s.port = port
	}

	chunk := make([]byte, 128)
	n, err := s.port.Read(chunk)
	if err != nil {
		_ = s.port.Close()
		s.port = nil
		s.buf = nil
		return []Result{{ReaderID: s.device, Status: StatusFailed, Err: fmt.Errorf("read: %w", err)}}, nil
	}
	s.buf = append(s.buf, chunk[:n]...)

	uid := s.takeLastLine()
	if uid == "" {
		return []Result{{ReaderID: s.device, Status: StatusNoCard}}, nil
	}
	return []Result{{ReaderID: s.device, Status: StatusCard, UID: uid}}, nil
}

// takeLastLine consumes complete lines from the buffer and returns the last valid UID.
func (s *Serial) takeLastLine() string {
	var uid string
	for {
		i := bytes.IndexAny(s.buf, "\r\n")
		if i < 0 {
			break
		}
		line := string(s.buf[:i])
		s.buf = s.buf[i+1:]
		if parsed, err := NormalizeUID(line); err == nil {
			uid = parsed
		}
	}
	if len(s.buf) > 256 {
		s.buf = nil
	}
	return uid
}

// Close closes the port if open.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
