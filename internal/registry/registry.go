// Package registry tracks the live set of client connections and their
// authentication state. It is the sole source of truth for who is online;
// nothing here is persisted and a restart empties it.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownConnection = errors.New("connection not registered")

// Sender is the outbound half of a transport connection. Delivery is
// best-effort: a send to a dead connection is dropped by the transport.
type Sender interface {
	Send(message []byte)
}

// Conn is a point-in-time snapshot of one live connection. Lookups return
// copies, so a caller never observes a half-updated entry.
type Conn struct {
	ID            uuid.UUID
	IP            string
	Transport     Sender
	Authenticated bool
	UserID        string
	Username      string
	CurrentRoom   string
	ConnectedAt   time.Time
}

type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Conn
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Conn),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Register adds a freshly opened, unauthenticated connection.
func (r *Registry) Register(id uuid.UUID, ip string, transport Sender) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return Conn{}, errors.New("connection is already registered")
	}
	conn := &Conn{
		ID:          id,
		IP:          ip,
		Transport:   transport,
		ConnectedAt: time.Now(),
	}
	r.conns[id] = conn
	r.logger.Debug("Connection registered", slog.String("connID", id.String()))
	return *conn, nil
}

// Unregister removes a connection and returns its final state so the caller
// can run user-scoped cleanup (uploads, calls, presence).
func (r *Registry) Unregister(id uuid.UUID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return Conn{}, false
	}
	delete(r.conns, id)
	r.logger.Debug("Connection deregistered", slog.String("connID", id.String()))
	return *conn, true
}

// MarkAuthenticated records a successful identity check on the connection.
func (r *Registry) MarkAuthenticated(id uuid.UUID, userID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.Authenticated = true
	conn.UserID = userID
	conn.Username = username
	r.logger.Debug("Connection authenticated",
		slog.String("connID", id.String()),
		slog.String("userID", userID),
	)
	return nil
}

// SetCurrentRoom updates the "currently viewing" hint. An empty roomID
// clears it.
func (r *Registry) SetCurrentRoom(id uuid.UUID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.CurrentRoom = roomID
	return nil
}

func (r *Registry) Get(id uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return Conn{}, false
	}
	return *conn, true
}

// Find returns a snapshot of every connection matching the predicate.
func (r *Registry) Find(pred func(Conn) bool) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conn
	for _, conn := range r.conns {
		if pred(*conn) {
			out = append(out, *conn)
		}
	}
	return out
}

// FindByUser returns every live connection authenticated as userID. A user
// with several devices has several entries.
func (r *Registry) FindByUser(userID string) []Conn {
	return r.Find(func(c Conn) bool {
		return c.Authenticated && c.UserID == userID
	})
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByIP reports how many connections a remote address currently holds.
func (r *Registry) CountByIP(ip string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conn := range r.conns {
		if conn.IP == ip {
			n++
		}
	}
	return n
}

// OldestByIP returns the longest-lived connection from a remote address.
func (r *Registry) OldestByIP(ip string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Conn
	for _, conn := range r.conns {
		if conn.IP != ip {
			continue
		}
		if oldest == nil || conn.ConnectedAt.Before(oldest.ConnectedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return Conn{}, false
	}
	return *oldest, true
}
