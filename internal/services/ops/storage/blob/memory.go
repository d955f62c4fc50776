package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// Memory keeps objects in process memory.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	info Info
	data []byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject), now: time.Now}
}

// Driver reports DriverMemory.
func (m *Memory) Driver() Driver { return DriverMemory }

// Put stores a copy of data under key, replacing any previous object.
func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	info := Info{Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: m.now().UTC()}
	m.mu.Lock()
	m.objects[key] = memoryObject{info: info, data: bytes.Clone(data)}
	m.mu.Unlock()
	return info, nil
}

// Get returns the object stored under key.
func (m *Memory) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Info{}, nil, ErrNotFound
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.data)), nil
}
