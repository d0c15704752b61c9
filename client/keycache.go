package client

import "sync"

// SessionKeyCache holds unwrapped conversation keys for the lifetime of one
// session. Memory only: nothing in here is ever written to disk or sent
// anywhere. Concurrent resolutions of the same conversation may both miss and
// both store; the values are equal, so the race is harmless.
type SessionKeyCache struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewSessionKeyCache() *SessionKeyCache {
	return &SessionKeyCache{keys: map[string][]byte{}}
}

// Get returns a copy of the cached key for a conversation id, or nil. Callers
// own the copy; a Clear racing with teardown never wipes a key already in use.
func (c *SessionKeyCache) Get(conversationID string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[conversationID]
	if !ok {
		return nil
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

// Put stores an unwrapped key. Idempotent for equal values.
func (c *SessionKeyCache) Put(conversationID string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[conversationID] = key
}

// Len reports the number of cached keys
func (c *SessionKeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Clear zeroizes every cached key and empties the cache. Called at logout;
// after Clear every conversation key must be unwrapped again.
func (c *SessionKeyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, key := range c.keys {
		for i := range key {
			key[i] = 0
		}
		delete(c.keys, id)
	}
}
