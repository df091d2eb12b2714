package lock

import (
	"sync"
	"time"

	"github.com/hirewire/billing/internal/clock"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
)

// Manager hands out named TTL leases, one holder per name. Sweeps take a
// lease keyed by sweep name before running, so two overlapping runs of the
// same sweep cannot both process the population. An expired lease counts as
// free, which keeps a crashed run from blocking the next one forever.
type Manager struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]leaseEntry
}

type leaseEntry struct {
	token string
	until time.Time
}

func NewManager(clock clock.Clock) *Manager {
	return &Manager{
		clock:  clock,
		leases: make(map[string]leaseEntry),
	}
}

// Acquire takes the named lease for ttl and returns its release func. A held
// unexpired lease fails with an already exists error.
func (m *Manager) Acquire(name string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if entry, held := m.leases[name]; held && entry.until.After(now) {
		return nil, ierr.NewError("lock already held").
			WithHintf("Another run of %s is still in progress", name).
			WithReportableDetails(map[string]any{
				"name":         name,
				"held_until":   entry.until,
				"requested_at": now,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	token := types.GenerateUUID()
	m.leases[name] = leaseEntry{token: token, until: now.Add(ttl)}

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Only the current holder may free the lease. A release arriving
		// after expiry must not clobber a successor's lease.
		if entry, held := m.leases[name]; held && entry.token == token {
			delete(m.leases, name)
		}
	}
	return release, nil
}

// Held reports whether the named lease is currently held and unexpired.
func (m *Manager) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.leases[name]
	return held && entry.until.After(m.clock.Now())
}
