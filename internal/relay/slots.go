//go:build unix

// File: internal/relay/slots.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import "github.com/momentics/hioload-relay/internal/transport"

// SlotTable is a bounded set of connections addressed by slot index. Free
// slots are tracked on an explicit free-list; the lowest released index is
// not necessarily reused first.
type SlotTable struct {
	slots []*transport.Conn
	free  []int
	byFd  map[int]int
}

// NewSlotTable creates a table with room for capacity connections.
func NewSlotTable(capacity int) *SlotTable {
	t := &SlotTable{
		slots: make([]*transport.Conn, capacity),
		free:  make([]int, 0, capacity),
		byFd:  make(map[int]int, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// Cap returns the number of slots.
func (t *SlotTable) Cap() int { return len(t.slots) }

// Len returns the number of occupied slots.
func (t *SlotTable) Len() int { return len(t.slots) - len(t.free) }

// Free returns the number of empty slots.
func (t *SlotTable) Free() int { return len(t.free) }

// Insert stores c in a free slot. It reports false when the table is full.
func (t *SlotTable) Insert(c *transport.Conn) (int, bool) {
	if len(t.free) == 0 {
		return -1, false
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.slots[slot] = c
	t.byFd[c.Fd()] = slot
	return slot, true
}

// Remove clears slot and returns the connection it held, or nil if empty.
func (t *SlotTable) Remove(slot int) *transport.Conn {
	c := t.slots[slot]
	if c == nil {
		return nil
	}
	t.slots[slot] = nil
	delete(t.byFd, c.Fd())
	t.free = append(t.free, slot)
	return c
}

// Get returns the connection in slot, or nil.
func (t *SlotTable) Get(slot int) *transport.Conn { return t.slots[slot] }

// Lookup maps a ready descriptor back to its slot.
func (t *SlotTable) Lookup(fd int) (int, bool) {
	slot, ok := t.byFd[fd]
	return slot, ok
}
