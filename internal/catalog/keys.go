package catalog

import "sync"

// Key is the projection of a stored key: the name clients look up and the
// model its values validate against.
type Key struct {
	ID          string
	KeyModelID  string
	Description string
	Deprecated  bool
}

// Keys mirrors the keys collection.
type Keys struct {
	mu   sync.RWMutex
	byID map[string]Key
}

// NewKeys creates an empty key projection.
func NewKeys() *Keys {
	return &Keys{byID: make(map[string]Key)}
}

// Set registers or replaces a key.
func (k *Keys) Set(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byID[key.ID] = key
}

// Delete removes a key.
func (k *Keys) Delete(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.byID, id)
}

// Get returns the key for an id.
func (k *Keys) Get(id string) (Key, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.byID[id]
	return key, ok
}

// Len returns the number of registered keys.
func (k *Keys) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byID)
}
