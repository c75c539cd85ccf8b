package websocket

import "sync"

// Rooms tracks which connections are joined to which document room. It is
// the only owner of room membership: an explicit set per document id,
// independent of any transport library's room abstraction. A connection
// belongs to at most one room; joining another leaves the previous one.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // docID -> set of connection ids
	byConn  map[string]string              // connection id -> docID
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]struct{}),
		byConn:  make(map[string]string),
	}
}

// Join adds the connection to the document's room, leaving any prior room.
func (r *Rooms) Join(connID, docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(connID)

	if r.members[docID] == nil {
		r.members[docID] = make(map[string]struct{})
	}
	r.members[docID][connID] = struct{}{}
	r.byConn[connID] = docID
}

// Leave removes the connection from whatever room it occupies.
func (r *Rooms) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

func (r *Rooms) leaveLocked(connID string) {
	docID, ok := r.byConn[connID]
	if !ok {
		return
	}

	delete(r.byConn, connID)
	if set, ok := r.members[docID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.members, docID)
		}
	}
}

// RoomOf returns the document room the connection is joined to, if any.
func (r *Rooms) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docID, ok := r.byConn[connID]
	return docID, ok
}

// Members returns the connection ids currently joined to the document.
func (r *Rooms) Members(docID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[docID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of connections joined to the document.
func (r *Rooms) Count(docID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[docID])
}
