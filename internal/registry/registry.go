package registry

import (
	"sync"
	"time"

	"github.com/nullsumme/govee-ble-to-mqtt/internal/govee"
)

// Identity is the stable per-device key: canonical colon-hex hardware
// address plus the inferred model tag.
type Identity struct {
	Address string
	Model   govee.Model
}

// Result tells the caller what to do with an accepted reading.
type Result struct {
	// ShouldPublish is false when the reading is an unchanged rebroadcast
	// inside the minimum republish interval.
	ShouldPublish bool

	// FirstSeen is true for the first recognized reading of an identity.
	FirstSeen bool

	// NeedsDiscovery stays true until MarkDiscoveryAnnounced is called for
	// the identity.
	NeedsDiscovery bool
}

type entry struct {
	lastReading govee.Reading
	lastPublish time.Time
	announced   bool
}

// Registry owns the per-device last-seen state. It is the single source of
// truth for deduplication and for the one-shot discovery flag. Entries are
// never removed; the device population is bounded by radio range.
//
// All methods are safe for concurrent use, though the bridge drives it from
// a single worker to keep per-identity ordering.
type Registry struct {
	mu          sync.Mutex
	minInterval time.Duration
	entries     map[string]*entry
}

func New(minInterval time.Duration) *Registry {
	return &Registry{
		minInterval: minInterval,
		entries:     make(map[string]*entry),
	}
}

// Upsert records a decoded reading for an identity and decides whether it
// should be published. Govee devices rebroadcast an unchanged reading
// several times per second; an identical reading inside the minimum
// interval is suppressed. A changed reading always publishes, as does the
// first reading ever seen for an identity.
func (r *Registry) Upsert(id Identity, reading govee.Reading, now time.Time) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id.Address]
	if !ok {
		e = &entry{}
		r.entries[id.Address] = e
		e.lastReading = reading
		e.lastPublish = now
		return Result{ShouldPublish: true, FirstSeen: true, NeedsDiscovery: true}
	}

	unchanged := e.lastReading == reading
	if unchanged && now.Sub(e.lastPublish) < r.minInterval {
		return Result{NeedsDiscovery: !e.announced}
	}

	e.lastReading = reading
	e.lastPublish = now
	return Result{ShouldPublish: true, NeedsDiscovery: !e.announced}
}

// MarkDiscoveryAnnounced flips the identity's discovery flag. The
// transition is false to true exactly once; repeated calls are no-ops, as
// are calls for identities the registry has never seen.
func (r *Registry) MarkDiscoveryAnnounced(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id.Address]; ok {
		e.announced = true
	}
}

// Len reports how many devices have been seen so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
