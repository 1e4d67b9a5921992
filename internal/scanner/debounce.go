package scanner

import "time"

type sighting struct {
	reader string
	uid    string
}

// debouncer suppresses repeated sightings of the same card on the same reader
// within a fixed window measured from the first sighting.
type debouncer struct {
	window time.Duration
	seen   map[sighting]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, seen: make(map[sighting]time.Time)}
}

// bounce reports whether (reader, uid) was already seen inside the window.
// A first sighting is recorded and never suppressed.
func (d *debouncer) bounce(reader, uid string, now time.Time) bool {
	d.expire(now)
	k := sighting{reader: reader, uid: uid}
	if _, ok := d.seen[k]; ok {
		return true
	}
	if d.window > 0 {
		d.seen[k] = now
	}
	return false
}

func (d *debouncer) expire(now time.Time) {
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
}

func (d *debouncer) reset() {
	d.seen = make(map[sighting]time.Time)
}
