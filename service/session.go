package service

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// session is the forwarding state of a single player on the game relay.
type session struct {
	// playerAddrPort is the player's public address, as carried in frame headers.
	playerAddrPort netip.AddrPort

	// gameConn is connected to the game server.
	// It is shared by the relay's receive loop (writes) and the session's reader (reads).
	gameConn *net.UDPConn

	// tunnelPeer is the tunnel address that last sent a frame for this player.
	// Replies are framed and sent to this address.
	tunnelPeer atomic.Pointer[netip.AddrPort]

	// readerDone is closed when the session's reader exits.
	readerDone chan struct{}

	// mu serializes uplink writes with expiry.
	mu sync.Mutex

	// lastUplink is the time of the last uplink write, set only with an idle timeout.
	lastUplink time.Time

	// expired is set once the session is removed for being idle.
	// An expired session must not be written to.
	expired bool
}

func newSession(playerAddrPort, tunnelPeer netip.AddrPort, gameConn *net.UDPConn) *session {
	s := &session{
		playerAddrPort: playerAddrPort,
		gameConn:       gameConn,
		readerDone:     make(chan struct{}),
	}
	s.tunnelPeer.Store(&tunnelPeer)
	return s
}

// lockActive locks the session for an uplink write.
// It returns false without holding the lock if the session has expired.
func (s *session) lockActive() bool {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return false
	}
	return true
}

// tryExpire marks the session expired and removes it from t,
// unless an uplink write happened within idleTimeout before now.
func (s *session) tryExpire(now time.Time, idleTimeout time.Duration, t *sessionTable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastUplink) < idleTimeout {
		return false
	}
	s.expired = true
	t.Delete(s.playerAddrPort, s)
	return true
}

// sessionTable maps player addresses to sessions.
//
// At most one session exists per player address: [sessionTable.GetOrCreate]
// runs the session factory under the write lock, after checking again for
// an entry created by a concurrent caller.
type sessionTable struct {
	mu sync.RWMutex
	m  map[netip.AddrPort]*session
}

func newSessionTable(capacity int) *sessionTable {
	return &sessionTable{
		m: make(map[netip.AddrPort]*session, capacity),
	}
}

// Load returns the session for the player address, if any.
func (t *sessionTable) Load(playerAddrPort netip.AddrPort) (*session, bool) {
	t.mu.RLock()
	s, ok := t.m[playerAddrPort]
	t.mu.RUnlock()
	return s, ok
}

// GetOrCreate returns the session for the player address,
// calling newSession to create and insert one if none exists.
//
// newSession is called at most once per absent key, even when callers race.
// If newSession returns an error, nothing is inserted and the error is returned.
func (t *sessionTable) GetOrCreate(playerAddrPort netip.AddrPort, newSession func() (*session, error)) (s *session, created bool, err error) {
	if s, ok := t.Load(playerAddrPort); ok {
		return s, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.m[playerAddrPort]; ok {
		return s, false, nil
	}

	s, err = newSession()
	if err != nil {
		return nil, false, err
	}
	t.m[playerAddrPort] = s
	return s, true, nil
}

// Delete removes the entry for the player address if it still maps to s.
func (t *sessionTable) Delete(playerAddrPort netip.AddrPort, s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.m[playerAddrPort] != s {
		return false
	}
	delete(t.m, playerAddrPort)
	return true
}

// Len returns the number of sessions.
func (t *sessionTable) Len() int {
	t.mu.RLock()
	n := len(t.m)
	t.mu.RUnlock()
	return n
}

// Range calls fn for each session while holding the read lock.
// fn must not call methods that modify the table.
func (t *sessionTable) Range(fn func(*session) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.m {
		if !fn(s) {
			return
		}
	}
}
