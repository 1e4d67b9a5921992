package reader

import (
	"context"
	"sync"
)

// VirtualID is the reader id reported by Virtual.
const VirtualID = "virtual"

// Virtual is an in-memory reader. Each Tap is reported by exactly one later Poll.
type Virtual struct {
	mu      sync.Mutex
	pending []string
	fail    []error
}

// NewVirtual creates an empty virtual reader.
func NewVirtual() *Virtual {
	return &Virtual{}
}

// Tap queues a card tap.
func (v *Virtual) Tap(uid string) error {
	uid, err := NormalizeUID(uid)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.pending = append(v.pending, uid)
	v.mu.Unlock()
	return nil
}

// Fail makes the next poll report a reader failure.
func (v *Virtual) Fail(err error) {
	v.mu.Lock()
	v.fail = append(v.fail, err)
	v.mu.Unlock()
}

// Poll implements Reader.
func (v *Virtual) Poll(ctx context.Context) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.fail) > 0 {
		err := v.fail[0]
		v.fail = v.fail[1:]
		return []Result{{ReaderID: VirtualID, Status: StatusFailed, Err: err}}, nil
	}
	if len(v.pending) == 0 {
		return []Result{{ReaderID: VirtualID, Status: StatusNoCard}}, nil
	}
	uid := v.pending[0]
	v.pending = v.pending[1:]
	return []Result{{ReaderID: VirtualID, Status: StatusCard, UID: uid}}, nil
}

// Close implements Reader.
func (v *Virtual) Close() error { return nil }
