package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
	"tapattend/internal/events"
	"tapattend/internal/metrics"
	"tapattend/internal/reader"
	"tapattend/internal/session"
)

// ErrAlreadyRegistered is returned by Register for a UID that already has a student.
var ErrAlreadyRegistered = errors.New("uid already registered")

// Registry is the student store used for card registration.
type Registry interface {
	Store
	AddStudent(ctx context.Context, st attendance.Student) (bool, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Reader  reader.Reader
	Session *session.State
	Lookup  Finder
	Store   Registry
	Sink    events.Sink
}

// lockedReader serializes polls between the loop and direct UID reads.
type lockedReader struct {
	mu sync.Mutex
	r  reader.Reader
}

func (l *lockedReader) Poll(ctx context.Context) ([]reader.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Poll(ctx)
}

func (l *lockedReader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Close()
}

// Controller owns the single scan loop goroutine and exposes session control.
type Controller struct {
	deps   Deps
	reader *lockedReader
	loop   *Loop
	cfg    Config
	log    *log.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	done    chan struct{}
	waiter  chan string
}

// NewController creates a controller. The loop never outlives ctx.
func NewController(ctx context.Context, cfg Config, deps Deps, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		deps:   deps,
		reader: &lockedReader{r: deps.Reader},
		cfg:    cfg.withDefaults(),
		log:    log.WithField("component", "controller"),
		ctx:    ctx,
		cancel: cancel,
	}
	c.loop = NewLoop(cfg, c.reader, deps.Session, deps.Lookup, deps.Store, deps.Sink, opts...)
	c.loop.claim = c.claim
	return c
}

// Session returns the controlled session.
func (c *Controller) Session() *session.State {
	return c.deps.Session
}

// Running reports whether the loop goroutine is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start begins a new session and makes sure the loop runs.
func (c *Controller) Start(opts session.Options) session.Snapshot {
	var snap session.Snapshot
	c.loop.exclusive(func() { snap = c.deps.Session.Start(opts) })
	metrics.SessionActive.Set(1)
	c.log.WithFields(log.Fields{"section": snap.Section, "subject": snap.Subject}).Info("session started")
	c.ensureRunning()

	if stats, err := c.deps.Store.TodayStats(c.ctx, snap.Section); err == nil {
		c.deps.Sink.Dashboard(stats)
	}
	return snap
}

// Stop deactivates the session. The loop exits at its next iteration.
func (c *Controller) Stop() bool {
	var was bool
	c.loop.exclusive(func() { was = c.deps.Session.Stop() })
	metrics.SessionActive.Set(0)
	if was {
		c.log.Info("session stopped")
	}
	return was
}

// Reset stops and clears the session.
func (c *Controller) Reset() {
	c.loop.exclusive(c.deps.Session.Reset)
	metrics.SessionActive.Set(0)
	c.log.Info("session reset")
}

func (c *Controller) ensureRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.ctx.Err() != nil {
		return
	}
	c.running = true
	c.done = make(chan struct{})
	go c.run(c.done)
}

func (c *Controller) run(done chan struct{}) {
	for {
		c.loop.Run(c.ctx)

		c.mu.Lock()
		// a Start that raced the exit needs the loop again
		if c.deps.Session.Active() && c.ctx.Err() == nil {
			c.mu.Unlock()
			continue
		}
		c.running = false
		c.waiter = nil
		close(done)
		c.mu.Unlock()
		return
	}
}

// Wait blocks until the loop goroutine has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	running := c.running
	c.mu.Unlock()
	if !running {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterResult reports a registration and, when a session accepted it, the scan outcome.
type RegisterResult struct {
	Student attendance.Student `json:"student"`
	Scan    *Result            `json:"scan,omitempty"`
}

// Register adds a student for a new card. When a session is active and its section
// matches, the card is processed like a tap so attendance is recorded once.
func (c *Controller) Register(ctx context.Context, st attendance.Student) (RegisterResult, error) {
	st.UID = attendance.NormalizeUID(st.UID)
	st.Section = attendance.NormalizeSection(st.Section)
	added, err := c.deps.Store.AddStudent(ctx, st)
	if err != nil {
		return RegisterResult{}, err
	}
	if !added {
		return RegisterResult{}, ErrAlreadyRegistered
	}
	c.log.WithFields(log.Fields{"uid": st.UID, "section": st.Section}).Info("student registered")

	res := RegisterResult{Student: st}
	s := c.deps.Session
	if s.Active() && (s.Section() == "" || attendance.SameSection(s.Section(), st.Section)) {
		scan := c.loop.Process(ctx, "register", st.UID)
		res.Scan = &scan
	}
	return res, nil
}

// NextUID waits for the next tapped card. While the loop runs the card is taken from
// it and not processed as attendance; otherwise the reader is polled directly.
func (c *Controller) NextUID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.running {
		ch := make(chan string, 1)
		c.waiter = ch
		c.mu.Unlock()
		select {
		case uid := <-ch:
			return uid, nil
		case <-ctx.Done():
			c.mu.Lock()
			if c.waiter == ch {
				c.waiter = nil
			}
			c.mu.Unlock()
			// a claim may have landed just before the timeout
			select {
			case uid := <-ch:
				return uid, nil
			default:
			}
			return "", ctx.Err()
		}
	}
	c.mu.Unlock()
	return c.pollUID(ctx)
}

func (c *Controller) claim(uid string) bool {
	c.mu.Lock()
	ch := c.waiter
	c.waiter = nil
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- uid
	return true
}

func (c *Controller) pollUID(ctx context.Context) (string, error) {
	interval := c.cfg.PollInterval
	for {
		results, err := c.reader.Poll(ctx)
		if err != nil && !errors.Is(err, reader.ErrNoReaders) && ctx.Err() == nil {
			c.log.WithError(err).Debug("direct poll failed")
		}
		for _, r := range results {
			if r.Status == reader.StatusCard {
				return r.UID, nil
			}
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

// Shutdown stops the loop and releases the reader.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	err := c.Wait(ctx)
	if cerr := c.reader.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
