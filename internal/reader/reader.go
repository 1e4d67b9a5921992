// Package reader polls contactless card readers for the UID of the card on them.
package reader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoReaders is returned by Poll when no reader is attached.
var ErrNoReaders = errors.New("no card readers detected")

// Status is the outcome of polling one reader.
type Status int

const (
	StatusNoCard Status = iota
	StatusCard
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCard:
		return "card"
	case StatusFailed:
		return "failed"
	default:
		return "no-card"
	}
}

// Result is what one reader reported during one poll.
type Result struct {
	ReaderID string
	Status   Status
	UID      string
	Err      error
}

// Reader is a set of card readers polled together.
type Reader interface {
	// Poll checks every attached reader once, in stable order.
	// Per-reader failures are reported in the results, not as the returned error.
	Poll(ctx context.Context) ([]Result, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type   string // "pcsc", "serial", "virtual"
	Device string // serial port
	Baud   int
}

// New creates a Reader for the configured backend.
func New(cfg Config) (Reader, error) {
	switch cfg.Type {
	case "pcsc", "":
		return OpenPCSC()
	case "serial":
		return NewSerial(cfg.Device, cfg.Baud), nil
	case "virtual":
		return NewVirtual(), nil
	default:
		return nil, fmt.Errorf("unknown reader backend %q", cfg.Type)
	}
}

// GetUIDCommands are the GET DATA (UID) APDUs tried in order; some readers want an explicit Le.
var GetUIDCommands = [][]byte{
	{0xFF, 0xCA, 0x00, 0x00, 0x00},
	{0xFF, 0xCA, 0x00, 0x00, 0x04},
	{0xFF, 0xCA, 0x00, 0x00, 0x07},
}

// ParseUIDResponse extracts the UID from an APDU response ending in SW1 SW2.
// Only 90 00 with a non-empty payload is a success.
func ParseUIDResponse(rsp []byte) (string, bool) {
	if len(rsp) < 3 {
		return "", false
	}
	sw1, sw2 := rsp[len(rsp)-2], rsp[len(rsp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return "", false
	}
	return FormatUID(rsp[:len(rsp)-2]), true
}

// FormatUID renders UID bytes as uppercase hex.
func FormatUID(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// NormalizeUID validates a textual UID and returns it in uppercase hex.
func NormalizeUID(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" || len(s)%2 != 0 {
		return "", fmt.Errorf("invalid uid %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid uid %q: %w", s, err)
	}
	return s, nil
}

// preferContactless keeps only contactless readers when there are any.
func preferContactless(names []string) []string {
	var picked []string
	for _, n := range names {
		lower := strings.ToLower(n)
		if strings.Contains(lower, "contactless") || strings.Contains(lower, "picc") {
			picked = append(picked, n)
		}
	}
	if len(picked) == 0 {
		picked = append(picked, names...)
	}
	sort.Strings(picked)
	return picked
}
