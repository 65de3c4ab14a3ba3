// Package keylock 提供按键互斥的锁表：锁在首次争用时创建，最后一个持有者/等待者
// 离开后回收，避免锁表随内容键数量无限增长。等待过程可被 context 取消。
package keylock

import (
	"context"
	"sort"
	"sync"
)

// Table 是引用计数的按键锁表，零值不可用，请使用 New 创建。
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	// ch 容量为 1，写入即持有锁。
	ch   chan struct{}
	refs int
}

// New 创建空锁表。
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock 获取 key 对应的互斥锁，返回的 unlock 可重复调用。
// ctx 取消时放弃等待并返回 ctx.Err()。
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e := t.entries[key]
	if e == nil {
		e = &entry{ch: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			t.release(key, e)
		})
	}, nil
}

func (t *Table) release(key string, e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// Held 返回当前被持有的键（按字典序），供诊断接口展示进行中的操作。
func (t *Table) Held() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.entries))
	for key, e := range t.entries {
		if len(e.ch) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len 返回锁表中尚未回收的键数量（包含等待者）。
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
