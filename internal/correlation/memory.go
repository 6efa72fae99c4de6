package correlation

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded entries in a map. Used in development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, namespace, userName string) (*Entry, error) {
	if err := validKey(namespace, userName); err != nil {
		return nil, err
	}
	s.mu.Lock()
	raw, ok := s.data[memoryKey(namespace, userName)]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decode(raw)
}

func (s *MemoryStore) Set(_ context.Context, namespace, userName string, entry *Entry) error {
	if err := validKey(namespace, userName); err != nil {
		return err
	}
	raw, err := encode(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[memoryKey(namespace, userName)] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, namespace, userName string) error {
	if err := validKey(namespace, userName); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, memoryKey(namespace, userName))
	s.mu.Unlock()
	return nil
}

// SetRaw stores value verbatim, bypassing encoding. Lets tests plant corrupt entries.
func (s *MemoryStore) SetRaw(namespace, userName string, value []byte) {
	s.mu.Lock()
	s.data[memoryKey(namespace, userName)] = value
	s.mu.Unlock()
}

func memoryKey(namespace, userName string) string {
	return namespace + "\x00" + userName
}
