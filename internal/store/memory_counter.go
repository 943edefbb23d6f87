package store

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter 单进程计数器（Redis 不可用时 / 测试用）
type MemoryCounter struct {
	mu   sync.Mutex
	data map[string]memoryCounterItem
	now  func() time.Time
}

type memoryCounterItem struct {
	n       int64
	expires time.Time // zero = no ttl
}

func NewMemoryCounter() *MemoryCounter {
	return NewMemoryCounterWithClock(time.Now)
}

// NewMemoryCounterWithClock 测试里注入时钟推进窗口
func NewMemoryCounterWithClock(now func() time.Time) *MemoryCounter {
	return &MemoryCounter{data: make(map[string]memoryCounterItem), now: now}
}

var _ Counter = (*MemoryCounter)(nil)

// live 调用方持有锁
func (m *MemoryCounter) live(key string) (memoryCounterItem, bool) {
	item, ok := m.data[key]
	if !ok {
		return memoryCounterItem{}, false
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.data, key)
		return memoryCounterItem{}, false
	}
	return item, true
}

func (m *MemoryCounter) IncrementAndCheck(_ context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(key)
	if !ok && ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	item.n++
	m.data[key] = item
	return item.n, item.n <= limit, nil
}

func (m *MemoryCounter) Peek(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, _ := m.live(key)
	return item.n, nil
}

func (m *MemoryCounter) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(key)
	if !ok || item.n <= 0 {
		return nil
	}
	item.n--
	m.data[key] = item
	return nil
}
