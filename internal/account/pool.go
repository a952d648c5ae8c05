package account

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/store"
	"go.uber.org/zap"
)

var ErrNoHealthyAccount = errors.New("no healthy account available")

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthFailure
	OutcomeTransient
)

// Lease is a borrowed account slot. Callers must Release exactly once;
// Release is idempotent for safety on error paths.
type Lease struct {
	ID      string
	Psid    string
	Psidts  string
	Cookies map[string]string
	done    atomic.Bool
}

type entry struct {
	acc   *store.Account
	inUse int
}

// Pool hands out account slots round-robin over healthy accounts, falling
// back to degraded ones. The lock covers counter mutation only, never
// upstream I/O.
type Pool struct {
	mu            sync.Mutex
	st            *store.Store
	slots         int
	degradedAfter int
	expiredAfter  int
	entries       map[string]*entry
	order         []string
	next          int
}

func NewPool(st *store.Store, slots, degradedAfter, expiredAfter int) *Pool {
	p := &Pool{
		st:            st,
		slots:         slots,
		degradedAfter: degradedAfter,
		expiredAfter:  expiredAfter,
		entries:       map[string]*entry{},
	}
	p.Refresh()
	return p
}

// Refresh re-reads the store, picking up sync pushes and deletions while
// preserving in-use counters of live slots.
func (p *Pool) Refresh() {
	accounts := p.st.List()
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := map[string]bool{}
	order := make([]string, 0, len(accounts))
	for _, a := range accounts {
		seen[a.ID] = true
		order = append(order, a.ID)
		if e, ok := p.entries[a.ID]; ok {
			e.acc = a
		} else {
			p.entries[a.ID] = &entry{acc: a}
		}
	}
	for id := range p.entries {
		if !seen[id] {
			delete(p.entries, id)
		}
	}
	p.order = order
	if p.next >= len(order) {
		p.next = 0
	}
}

func (p *Pool) pick(status string, exclude map[string]bool) *entry {
	n := len(p.order)
	for i := 0; i < n; i++ {
		id := p.order[(p.next+i)%n]
		e := p.entries[id]
		if e == nil || e.acc.Status != status || e.inUse >= p.slots || exclude[id] {
			continue
		}
		p.next = (p.next + i + 1) % n
		return e
	}
	return nil
}

// Acquire picks an account and claims one slot; excluded ids are skipped
// (retry against a different account).
func (p *Pool) Acquire(exclude ...string) (*Lease, error) {
	ex := map[string]bool{}
	for _, id := range exclude {
		ex[id] = true
	}
	p.mu.Lock()
	e := p.pick(store.StatusHealthy, ex)
	if e == nil {
		e = p.pick(store.StatusDegraded, ex)
	}
	if e == nil {
		p.mu.Unlock()
		return nil, ErrNoHealthyAccount
	}
	e.inUse++
	l := &Lease{
		ID:      e.acc.ID,
		Psid:    e.acc.Psid,
		Psidts:  e.acc.Psidts,
		Cookies: e.acc.Cookies,
	}
	p.mu.Unlock()
	p.st.BumpUse(l.ID)
	return l, nil
}

// AcquireByID claims a slot on the pinned account only; conversations may
// not migrate between accounts.
func (p *Pool) AcquireByID(id string) (*Lease, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok || e.acc.Status == store.StatusExpired || e.inUse >= p.slots {
		p.mu.Unlock()
		return nil, ErrNoHealthyAccount
	}
	e.inUse++
	l := &Lease{
		ID:      e.acc.ID,
		Psid:    e.acc.Psid,
		Psidts:  e.acc.Psidts,
		Cookies: e.acc.Cookies,
	}
	p.mu.Unlock()
	p.st.BumpUse(id)
	return l, nil
}

// Release returns the slot and applies the outcome to account health.
func (p *Pool) Release(l *Lease, o Outcome) {
	if l == nil || !l.done.CompareAndSwap(false, true) {
		return
	}
	now := time.Now().Unix()
	p.mu.Lock()
	e, ok := p.entries[l.ID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if e.inUse > 0 {
		e.inUse--
	}
	a := e.acc
	switch o {
	case OutcomeSuccess:
		a.Failures = 0
		a.LastSuccess = now
		if a.Status == store.StatusDegraded {
			a.Status = store.StatusHealthy
		}
	case OutcomeAuthFailure:
		a.Failures++
		a.LastFailure = now
		if a.Failures >= p.expiredAfter {
			a.Status = store.StatusExpired
		} else if a.Failures >= p.degradedAfter {
			a.Status = store.StatusDegraded
		}
	case OutcomeTransient:
		a.LastFailure = now
	}
	status, failures, ls, lf := a.Status, a.Failures, a.LastSuccess, a.LastFailure
	p.mu.Unlock()
	if o == OutcomeAuthFailure && status == store.StatusExpired {
		fhblade.Log.Warn("account expired after consecutive auth failures",
			zap.String("id", l.ID),
			zap.Int("failures", failures))
	}
	p.st.UpdateHealth(l.ID, status, failures, ls, lf)
}

// Expired reports whether the account is unusable for pinned conversations.
func (p *Pool) Expired(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	return !ok || e.acc.Status == store.StatusExpired
}

func (p *Pool) InUse(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		return e.inUse
	}
	return 0
}
