package pool

import (
	"sort"

	"github.com/yokha/redis-manager/internal/logging"
)

// EntryStatus is one entry's slice of a status snapshot.
type EntryStatus struct {
	Index       int   `json:"index"`
	ActiveCalls int64 `json:"active_calls"`
}

// URLStatus summarises one URL's pool list.
type URLStatus struct {
	TotalPools     int           `json:"total_pools"`
	HealthyPools   int           `json:"healthy_pools"`
	UnhealthyPools int           `json:"unhealthy_pools"`
	Entries        []EntryStatus `json:"pools"`
}

// FetchPoolStatus returns a point-in-time snapshot of every managed
// URL. The snapshot is taken per URL; counters may move again the
// moment the method returns.
func (m *Manager) FetchPoolStatus() map[string]URLStatus {
	m.globalMu.Lock()
	states := make([]*urlState, 0, len(m.urls))
	for _, st := range m.urls {
		states = append(states, st)
	}
	m.globalMu.Unlock()
	sort.Slice(states, func(i, j int) bool { return states[i].url < states[j].url })

	out := make(map[string]URLStatus, len(states))
	for _, st := range states {
		entries := st.snapshot()
		us := URLStatus{TotalPools: len(entries)}
		for i, e := range entries {
			if e.Healthy() {
				us.HealthyPools++
			} else {
				us.UnhealthyPools++
			}
			us.Entries = append(us.Entries, EntryStatus{Index: i, ActiveCalls: e.ActiveCalls()})
		}
		out[st.url] = us
	}
	return out
}

// CloseNodePools closes every entry for url and removes the URL from
// the manager. Safe to call on an unknown URL (no-op). The URL is
// removed atomically and its list emptied in one step: a concurrent
// Acquire sees the full list, ErrUnknownURL, or (if it looked the URL
// up just before removal) an empty list and ErrNoHealthyPools, never a
// partial list.
func (m *Manager) CloseNodePools(url string) {
	m.globalMu.Lock()
	st, ok := m.urls[url]
	if ok {
		delete(m.urls, url)
	}
	m.globalMu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	entries := st.entries
	st.entries = nil
	st.broadcast()
	st.mu.Unlock()

	for _, e := range entries {
		if err := e.close(); err != nil {
			logging.Op().Warn("entry close failed", "url", url, "error", err)
		}
	}
	m.emitPoolMetrics(url, nil)
	logging.Op().Info("node pools closed", "url", url, "count", len(entries))
}

// CloseAllPools stops the health-recovery loop (waiting for it to
// finish), closes every entry of every URL, and clears the mapping.
// The cleanup loop, if started, must be stopped first via StopCleanup.
// Idempotent.
func (m *Manager) CloseAllPools() {
	m.healthOnce.Do(func() {
		close(m.healthStop)
	})
	<-m.healthDone

	m.globalMu.Lock()
	states := make([]*urlState, 0, len(m.urls))
	for _, st := range m.urls {
		states = append(states, st)
	}
	m.urls = make(map[string]*urlState)
	m.globalMu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		entries := st.entries
		st.entries = nil
		st.broadcast()
		st.mu.Unlock()
		for _, e := range entries {
			if err := e.close(); err != nil {
				logging.Op().Warn("entry close failed", "url", st.url, "error", err)
			}
		}
		m.emitPoolMetrics(st.url, nil)
	}
	logging.Op().Info("all pools closed", "urls", len(states))
}
