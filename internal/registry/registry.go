// Package registry is the authoritative store of live connections and the
// identities they have claimed. Every operation runs under one lock, so
// concurrent callers always observe a complete roster.
package registry

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

var (
	// ErrInvalidIdentity is returned by Register for an empty username.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrNotRegistered is returned by Unregister when the connection never
	// joined. It is informational.
	ErrNotRegistered = errors.New("connection not registered")
)

// RegisterResult describes the registry state right after a Register call.
type RegisterResult[C comparable] struct {
	Identity string
	Roster   []string
	Members  []C

	// Replaced is the identity the connection held before, when it differs.
	Replaced string

	// Evicted is the connection that owned Identity before this call.
	Evicted    C
	HasEvicted bool
}

// UnregisterResult describes the registry state right after an Unregister call.
type UnregisterResult[C comparable] struct {
	Identity string
	Roster   []string
	Members  []C
}

// Registry maps connections to identities and back. The zero value is not
// usable; call New.
type Registry[C comparable] struct {
	mu         sync.RWMutex
	members    map[C]struct{}
	identities map[C]string
	owners     map[string]C
}

// New returns an empty Registry.
func New[C comparable]() *Registry[C] {
	return &Registry[C]{
		members:    make(map[C]struct{}),
		identities: make(map[C]string),
		owners:     make(map[string]C),
	}
}

// Attach records a live connection that has not claimed an identity yet.
func (r *Registry[C]) Attach(conn C) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[conn] = struct{}{}
}

// Register binds identity to conn. A different connection already holding
// identity loses it (last writer wins) and is reported in the result; an
// identity previously held by conn is released.
func (r *Registry[C]) Register(conn C, identity string) (RegisterResult[C], error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return RegisterResult[C]{}, ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[conn] = struct{}{}
	res := RegisterResult[C]{Identity: identity}

	if prev, ok := r.identities[conn]; ok && prev != identity {
		delete(r.owners, prev)
		res.Replaced = prev
	}

	if owner, ok := r.owners[identity]; ok && owner != conn {
		delete(r.identities, owner)
		res.Evicted = owner
		res.HasEvicted = true
	}

	r.identities[conn] = identity
	r.owners[identity] = conn

	res.Roster = r.roster()
	res.Members = lo.Keys(r.members)
	return res, nil
}

// Unregister drops conn and its identity, if any. It returns
// ErrNotRegistered when conn had no identity; the result is still valid.
func (r *Registry[C]) Unregister(conn C) (UnregisterResult[C], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, conn)

	identity, ok := r.identities[conn]
	if ok {
		delete(r.identities, conn)
		delete(r.owners, identity)
	}

	res := UnregisterResult[C]{
		Identity: identity,
		Roster:   r.roster(),
		Members:  lo.Keys(r.members),
	}
	if !ok {
		return res, ErrNotRegistered
	}
	return res, nil
}

// Snapshot returns the online identities, sorted.
func (r *Registry[C]) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.roster()
}

// Lookup returns the identity conn has claimed.
func (r *Registry[C]) Lookup(conn C) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[conn]
	return identity, ok
}

// Members returns every attached connection, joined or not.
func (r *Registry[C]) Members() []C {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.members)
}

// Len returns the number of attached connections.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

// roster must be called with mu held.
func (r *Registry[C]) roster() []string {
	online := lo.Keys(r.owners)
	slices.Sort(online)
	return online
}
