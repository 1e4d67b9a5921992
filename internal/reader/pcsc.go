package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ebfe/scard"
)

// PCSC polls every reader visible through the PC/SC daemon.
type PCSC struct {
	mu  sync.Mutex
	ctx *scard.Context
}

// OpenPCSC establishes a PC/SC context.
func OpenPCSC() (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish pcsc context: %w", err)
	}
	return &PCSC{ctx: ctx}, nil
}

// Poll implements Reader.
func (p *PCSC) Poll(ctx context.Context) ([]Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names, err := p.ctx.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, ErrNoReaders
		}
		return nil, fmt.Errorf("list readers: %w", err)
	}
	if len(names) == 0 {
		return nil, ErrNoReaders
	}

	names = preferContactless(names)
	results := make([]Result, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.pollOne(name))
	}
	return results, nil
}

func (p *PCSC) pollOne(name string) Result {
	card, err := p.ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		if isNoCard(err) {
			return Result{ReaderID: name, Status: StatusNoCard}
		}
		return Result{ReaderID: name, Status: StatusFailed, Err: fmt.Errorf("connect: %w", err)}
	}
	defer func() { _ = card.Disconnect(scard.LeaveCard) }()

	var lastErr error
	for _, cmd := range GetUIDCommands {
		rsp, err := card.Transmit(cmd)
		if err != nil {
			if isNoCard(err) {
				return Result{ReaderID: name, Status: StatusNoCard}
			}
			lastErr = err
			continue
		}
		if uid, ok := ParseUIDResponse(rsp); ok {
			return Result{ReaderID: name, Status: StatusCard, UID: uid}
		}
	}
	if lastErr != nil {
		return Result{ReaderID: name, Status: StatusFailed, Err: fmt.Errorf("transmit: %w", lastErr)}
	}
	// a card answered but refused every UID command
	return Result{ReaderID: name, Status: StatusNoCard}
}

func isNoCard(err error) bool {
	return errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrUnresponsiveCard) ||
		errors.Is(err, scard.ErrUnpoweredCard) ||
		errors.Is(err, scard.ErrResetCard)
}

// Close releases the PC/SC context.
func (p *PCSC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx.Release()
}
