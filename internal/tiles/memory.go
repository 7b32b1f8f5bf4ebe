// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package tiles

import (
	"sync"
	"time"
)

type memEntry struct {
	url       string
	img       []byte
	expiresAt time.Time
	prev      *memEntry
	next      *memEntry
}

// memoryLRU keeps recently used tiles in RAM in front of the store. It is
// bounded by total image bytes; entries also expire after ttl.
//
// head.next is the most recently used entry, tail.prev the least.
type memoryLRU struct {
	mu       sync.Mutex
	maxBytes int64
	ttl      time.Duration
	bytes    int64
	items    map[string]*memEntry
	head     *memEntry
	tail     *memEntry
}

func newMemoryLRU(maxBytes int64, ttl time.Duration) *memoryLRU {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	m := &memoryLRU{
		maxBytes: maxBytes,
		ttl:      ttl,
		items:    make(map[string]*memEntry),
		head:     &memEntry{},
		tail:     &memEntry{},
	}
	m.head.next = m.tail
	m.tail.prev = m.head
	return m
}

func (m *memoryLRU) get(url string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[url]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.removeEntry(e)
		return nil, false
	}
	m.unlink(e)
	m.addToFront(e)
	return e.img, true
}

// add stores img, evicting from the back until the byte bound holds.
// Images larger than the whole bound are not kept.
func (m *memoryLRU) add(url string, img []byte) {
	size := int64(len(img))
	if size > m.maxBytes {
		m.remove(url)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := time.Now().Add(m.ttl)
	if e, ok := m.items[url]; ok {
		m.bytes += size - int64(len(e.img))
		e.img = img
		e.expiresAt = expiresAt
		m.unlink(e)
		m.addToFront(e)
	} else {
		e := &memEntry{url: url, img: img, expiresAt: expiresAt}
		m.addToFront(e)
		m.items[url] = e
		m.bytes += size
	}
	for m.bytes > m.maxBytes && m.tail.prev != m.head {
		m.removeEntry(m.tail.prev)
	}
}

func (m *memoryLRU) remove(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[url]; ok {
		m.removeEntry(e)
	}
}

func (m *memoryLRU) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*memEntry)
	m.bytes = 0
	m.head.next = m.tail
	m.tail.prev = m.head
}

func (m *memoryLRU) stats() (entries int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), m.bytes
}

// Helpers below expect mu held.

func (m *memoryLRU) addToFront(e *memEntry) {
	e.prev = m.head
	e.next = m.head.next
	m.head.next.prev = e
	m.head.next = e
}

func (m *memoryLRU) unlink(e *memEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (m *memoryLRU) removeEntry(e *memEntry) {
	m.unlink(e)
	delete(m.items, e.url)
	m.bytes -= int64(len(e.img))
}
