// Package state holds the process-wide concurrent view of heads, running
// networks, and the proxy registry cache. Each map is guarded by its own
// lock held only for the duration of the access; a head's record and its
// network are mutated independently, so no cross-map atomicity is provided.
package state

import (
	"sync"

	"hydrapay.dev/hpd/internal/node"
	"hydrapay.dev/hpd/internal/types"
)

// Store is the in-memory state shared across request handlers and the
// background status monitors.
type Store struct {
	proxyMu sync.RWMutex
	proxies map[string]types.ProxyInfo // owner address -> proxy info

	headMu sync.RWMutex
	heads  map[string]types.HeadRecord // head name -> record

	netMu    sync.RWMutex
	networks map[string]*node.Network // head name -> running network
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{
		proxies:  make(map[string]types.ProxyInfo),
		heads:    make(map[string]types.HeadRecord),
		networks: make(map[string]*node.Network),
	}
}

// Proxy returns the cached proxy info for an owner address.
func (s *Store) Proxy(owner string) (types.ProxyInfo, bool) {
	s.proxyMu.RLock()
	defer s.proxyMu.RUnlock()
	info, ok := s.proxies[owner]
	return info, ok
}

// PutProxy caches the proxy info for an owner address.
func (s *Store) PutProxy(owner string, info types.ProxyInfo) {
	s.proxyMu.Lock()
	defer s.proxyMu.Unlock()
	s.proxies[owner] = info
}

// Head returns the record for a head name.
func (s *Store) Head(name string) (types.HeadRecord, bool) {
	s.headMu.RLock()
	defer s.headMu.RUnlock()
	rec, ok := s.heads[name]
	return rec, ok
}

// PutHead inserts or replaces a head record.
func (s *Store) PutHead(rec types.HeadRecord) {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	s.heads[rec.Name] = rec
}

// PutHeadIfAbsent inserts the record only if no head with that name exists,
// reporting whether the insert happened. Check and insert hold the lock
// together, so concurrent inserts for one name admit exactly one winner.
func (s *Store) PutHeadIfAbsent(rec types.HeadRecord) bool {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	if _, ok := s.heads[rec.Name]; ok {
		return false
	}
	s.heads[rec.Name] = rec
	return true
}

// RemoveHead forgets a head record. Used to release a reservation when
// creation fails after the name was claimed.
func (s *Store) RemoveHead(name string) {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	delete(s.heads, name)
}

// SetHeadStatus updates the status of an existing head. It reports whether
// the head was found.
func (s *Store) SetHeadStatus(name string, status types.Status) bool {
	s.headMu.Lock()
	defer s.headMu.Unlock()
	rec, ok := s.heads[name]
	if !ok {
		return false
	}
	rec.Status = status
	s.heads[name] = rec
	return true
}

// Network returns the running network for a head name.
func (s *Store) Network(name string) (*node.Network, bool) {
	s.netMu.RLock()
	defer s.netMu.RUnlock()
	n, ok := s.networks[name]
	return n, ok
}

// PutNetwork records a running network for a head name.
func (s *Store) PutNetwork(name string, n *node.Network) {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	s.networks[name] = n
}

// RemoveNetwork forgets the network for a head name.
func (s *Store) RemoveNetwork(name string) {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	delete(s.networks, name)
}

// NetworkNames returns the names of all heads with a running network.
func (s *Store) NetworkNames() []string {
	s.netMu.RLock()
	defer s.netMu.RUnlock()
	names := make([]string, 0, len(s.networks))
	for name := range s.networks {
		names = append(names, name)
	}
	return names
}
