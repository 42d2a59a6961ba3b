package media_test

import (
	"fmt"
	"sync"
)

// memLibrary is an in-memory blob store enforcing write-once semantics.
type memLibrary struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemLibrary() *memLibrary {
	return &memLibrary{blobs: make(map[string][]byte)}
}

func (l *memLibrary) Save(id string, blob []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.blobs[id]; exists {
		return fmt.Errorf("blob %s already exists", id)
	}
	l.blobs[id] = append([]byte(nil), blob...)
	return nil
}

func (l *memLibrary) Get(id string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blobs[id]
	return b, ok
}

func (l *memLibrary) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blobs)
}
