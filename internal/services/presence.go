package services

import (
	"sync"
)

// Event is one outbound message to a connected client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Connection is a live client transport handle. Send must not block on the
// network; implementations queue and drain on their own goroutine.
type Connection interface {
	ID() string
	Send(event Event) error
}

// PresenceDirectory maps an account to its single active connection. The last
// registration wins. Safe for concurrent use; no method performs I/O.
type PresenceDirectory struct {
	mu        sync.RWMutex
	byAccount map[int64]Connection
}

func NewPresenceDirectory() *PresenceDirectory {
	return &PresenceDirectory{byAccount: make(map[int64]Connection)}
}

// Register binds accountID to conn and returns the connection it replaced, if any.
func (p *PresenceDirectory) Register(accountID int64, conn Connection) Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.byAccount[accountID]
	p.byAccount[accountID] = conn
	if prev != nil && prev.ID() == conn.ID() {
		return nil
	}
	return prev
}

// Unregister removes every mapping that points at connID and returns the
// affected accounts.
func (p *PresenceDirectory) Unregister(connID string) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var accounts []int64
	for accountID, conn := range p.byAccount {
		if conn.ID() == connID {
			delete(p.byAccount, accountID)
			accounts = append(accounts, accountID)
		}
	}
	return accounts
}

func (p *PresenceDirectory) Lookup(accountID int64) (Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.byAccount[accountID]
	return conn, ok
}

func (p *PresenceDirectory) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byAccount)
}
