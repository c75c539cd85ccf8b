package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"codocs/collab"
	"codocs/core"
	"codocs/permissions"

	"github.com/sirupsen/logrus"
)

// Events the gateway exchanges with clients.
const (
	EventJoinDocument   = "joinDocument"
	EventUpdateDocument = "updateDocument"
	EventJoined         = "joinedDocument"
	EventUpdated        = "documentUpdated"
	EventError          = "error"
)

var (
	// ErrUnauthenticated means the connection never completed the identity
	// handshake. Fatal for the connection.
	ErrUnauthenticated = errors.New("connection is not authenticated")
	// ErrBadEvent means a malformed or out-of-protocol event. The event is
	// dropped and an error is reported to the sender only.
	ErrBadEvent = errors.New("malformed event")
)

type (
	// JoinedPayload is the reply to a successful room join.
	JoinedPayload struct {
		Message string `json:"message"`
		Content string `json:"content"`
	}

	// UpdatedPayload is broadcast to co-editors after an accepted edit.
	UpdatedPayload struct {
		Content string `json:"content"`
	}

	// ErrorPayload reports a denial or failure to the originating connection.
	ErrorPayload struct {
		Reason string `json:"reason"`
	}
)

// Emitter delivers an event to a single connection. The session manager
// treats the transport as this one capability; broadcast fan-out is driven
// by its own room membership, not by the transport's room abstraction.
type Emitter interface {
	Emit(connID, event string, payload any)
}

// Sessions is the connection/room session manager. It tracks authenticated
// connections, routes accepted edits into the document cache and fans out
// broadcasts to room members. Per connection the state machine is
// Connecting -> Authenticated -> (InRoom)* -> Disconnected; Connect is the
// only way in, and every join and edit passes the access gate first.
type Sessions struct {
	mu    sync.RWMutex
	conns map[string]string // connection id -> authenticated user id

	rooms       *Rooms
	cache       *collab.Cache
	gate        *permissions.Resolver
	emitter     Emitter
	joinTimeout time.Duration

	// docLocks serializes accept-to-broadcast per document so observers see
	// updates in acceptance order. Documents never contend with each other.
	lockMu   sync.Mutex
	docLocks map[string]*sync.Mutex
}

// SessionsConfig wires the session manager's collaborators.
type SessionsConfig struct {
	Cache       *collab.Cache
	Gate        *permissions.Resolver
	Emitter     Emitter
	JoinTimeout time.Duration
}

func NewSessions(cfg SessionsConfig) *Sessions {
	joinTimeout := cfg.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = 10 * time.Second
	}
	return &Sessions{
		conns:       make(map[string]string),
		rooms:       NewRooms(),
		cache:       cfg.Cache,
		gate:        cfg.Gate,
		emitter:     cfg.Emitter,
		joinTimeout: joinTimeout,
		docLocks:    make(map[string]*sync.Mutex),
	}
}

// SetEmitter installs the transport after construction. The socket.io
// server is built around the session manager, so the emitter arrives late.
func (s *Sessions) SetEmitter(e Emitter) {
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

func (s *Sessions) emit(connID, event string, payload any) {
	s.mu.RLock()
	e := s.emitter
	s.mu.RUnlock()
	if e != nil {
		e.Emit(connID, event, payload)
	}
}

// Connect admits a connection carrying an already-verified user identity.
// An empty identity is an authentication failure and the connection must be
// closed by the caller.
func (s *Sessions) Connect(connID, userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}

	s.mu.Lock()
	s.conns[connID] = userID
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": userID,
	}).Debug("Connection authenticated")
	return nil
}

// Disconnect removes the connection from its room, if any. Flush and
// eviction are left to the scheduler's sweep; connection liveness never
// drives persistence timing.
func (s *Sessions) Disconnect(connID string) {
	s.rooms.Leave(connID)

	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

func (s *Sessions) userOf(connID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.conns[connID]
	if !ok {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// Join gate-checks read permission, ensures the document is cached (a miss
// triggers a bounded durable read) and adds the connection to the room. The
// current content is returned for the join reply. Denials have no side
// effects: no cache entry, no membership change.
func (s *Sessions) Join(ctx context.Context, connID, docID string) (string, error) {
	userID, err := s.userOf(connID)
	if err != nil {
		return "", err
	}

	if err := s.gate.Require(ctx, docID, userID, core.PermissionRead); err != nil {
		return "", err
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()

	content, err := s.cache.Load(loadCtx, docID)
	if err != nil {
		return "", err
	}

	s.rooms.Join(connID, docID)

	logrus.WithFields(logrus.Fields{
		"conn_id":     connID,
		"user_id":     userID,
		"document_id": docID,
	}).Debug("Joined document room")
	return content, nil
}

// Edit gate-checks write permission, applies the new content to the cache
// (last-writer-wins) and broadcasts it to every other room member. The
// cache update and the fan-out happen under the document's order lock, so
// all observers see edits in acceptance order.
func (s *Sessions) Edit(ctx context.Context, connID, docID, content string) error {
	userID, err := s.userOf(connID)
	if err != nil {
		return err
	}
	return s.applyEdit(ctx, userID, docID, content, connID)
}

// ApplyExternalEdit routes a non-socket edit (the REST update endpoint)
// through the same gate, cache and broadcast path. Every room member
// receives the update; there is no sender connection to exclude.
func (s *Sessions) ApplyExternalEdit(ctx context.Context, userID, docID, content string) error {
	return s.applyEdit(ctx, userID, docID, content, "")
}

func (s *Sessions) applyEdit(ctx context.Context, userID, docID, content, senderConnID string) error {
	if err := s.gate.Require(ctx, docID, userID, core.PermissionWrite); err != nil {
		return err
	}

	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	s.cache.Update(docID, content)

	payload := UpdatedPayload{Content: content}
	for _, memberID := range s.rooms.Members(docID) {
		if memberID == senderConnID {
			continue
		}
		s.emit(memberID, EventUpdated, payload)
	}
	return nil
}

func (s *Sessions) docLock(docID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.docLocks[docID]
	if !ok {
		lock = &sync.Mutex{}
		s.docLocks[docID] = lock
	}
	return lock
}

// RoomCount reports room membership for the eviction sweep.
func (s *Sessions) RoomCount(docID string) int {
	return s.rooms.Count(docID)
}

// ConnCount returns the number of authenticated connections.
func (s *Sessions) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
