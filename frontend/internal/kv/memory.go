package kv

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory keeps sessions in process. It backs tests and single-instance
// deployments where losing sessions on restart is acceptable.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

var _ Store = (*Memory)(nil)
var _ Purger = (*Memory)(nil)

// NewMemory returns an in-memory store. ttl <= 0 disables expiry.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{data: make(map[string]map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func (m *Memory) lookup(namespace, key string) ([]byte, bool) {
	e, ok := m.data[namespace][key]
	if !ok || m.expired(e) {
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.lookup(namespace, key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Apply(ctx context.Context, namespace string, txn Txn) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(namespace)

	for _, c := range txn.Conditions {
		v, ok := m.lookup(namespace, c.Key)
		if !ConditionHolds(c, v, ok) {
			return ErrConflict
		}
	}

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		m.data[namespace] = ns
	}
	for _, mut := range txn.Mutations {
		if mut.Delete {
			delete(ns, mut.Key)
			continue
		}
		v := make([]byte, len(mut.Value))
		copy(v, mut.Value)
		ns[mut.Key] = memoryEntry{value: v}
	}
	// any write keeps the whole session alive
	m.refresh(namespace)
	return nil
}

func (m *Memory) Touch(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropExpired(namespace)
	m.refresh(namespace)
	return nil
}

// dropExpired removes expired keys of namespace so that a later refresh
// cannot revive them. Callers hold mu.
func (m *Memory) dropExpired(namespace string) {
	ns := m.data[namespace]
	for k, e := range ns {
		if m.expired(e) {
			delete(ns, k)
		}
	}
	if len(ns) == 0 {
		delete(m.data, namespace)
	}
}

// refresh restarts the ttl of every key in namespace. Callers hold mu.
func (m *Memory) refresh(namespace string) {
	ns, ok := m.data[namespace]
	if !ok {
		return
	}
	if len(ns) == 0 {
		delete(m.data, namespace)
		return
	}
	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}
	for k, e := range ns {
		e.expiresAt = expiresAt
		ns[k] = e
	}
}

func (m *Memory) PurgeExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for name, ns := range m.data {
		for k, e := range ns {
			if m.expired(e) {
				delete(ns, k)
				n++
			}
		}
		if len(ns) == 0 {
			delete(m.data, name)
		}
	}
	return n, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	return nil
}
