package uplink

import "github.com/nerrad567/meshlink/internal/message"

// freeSlot is the packet identifier of an unused slot.
// MQTT never assigns identifier 0.
const freeSlot uint16 = 0

// DefaultMaxInflight is the reference slot table capacity.
const DefaultMaxInflight = 5

// Slot is one in-flight QoS1 publish awaiting PUBACK.
type Slot struct {
	PacketID uint16
	Message  message.Message
	QoS      byte
}

// Free reports whether the slot is unused.
func (s Slot) Free() bool { return s.PacketID == freeSlot }

// SlotTable is a fixed-capacity table of in-flight publishes.
//
// It has no lock: only the goroutine running Manager.Run mutates it.
// Each non-zero packet identifier is stored in at most one slot.
type SlotTable struct {
	slots []Slot
}

// NewSlotTable returns a table with capacity slots.
func NewSlotTable(capacity int) *SlotTable {
	if capacity <= 0 {
		capacity = DefaultMaxInflight
	}
	return &SlotTable{slots: make([]Slot, capacity)}
}

// freeIndex returns the index of the first free slot, or -1.
func (t *SlotTable) freeIndex() int {
	for i := range t.slots {
		if t.slots[i].Free() {
			return i
		}
	}
	return -1
}

// HasFree reports whether a slot is available.
func (t *SlotTable) HasFree() bool { return t.freeIndex() >= 0 }

// Store records a publish in the first free slot.
// It returns ErrNoFreeSlot without touching the table when none is free.
func (t *SlotTable) Store(id uint16, msg message.Message, qos byte) error {
	i := t.freeIndex()
	if i < 0 {
		return ErrNoFreeSlot
	}
	t.slots[i] = Slot{PacketID: id, Message: msg, QoS: qos}
	return nil
}

// Release frees the slot holding id and reports whether one was found.
func (t *SlotTable) Release(id uint16) bool {
	if id == freeSlot {
		return false
	}
	for i := range t.slots {
		if t.slots[i].PacketID == id {
			t.slots[i] = Slot{}
			return true
		}
	}
	return false
}

// Contains reports whether id is in flight.
func (t *SlotTable) Contains(id uint16) bool {
	if id == freeSlot {
		return false
	}
	for i := range t.slots {
		if t.slots[i].PacketID == id {
			return true
		}
	}
	return false
}

// InUse returns the number of occupied slots.
func (t *SlotTable) InUse() int {
	n := 0
	for i := range t.slots {
		if !t.slots[i].Free() {
			n++
		}
	}
	return n
}

// Cap returns the table capacity.
func (t *SlotTable) Cap() int { return len(t.slots) }

// Pending returns copies of the occupied slots in table order.
func (t *SlotTable) Pending() []Slot {
	var out []Slot
	for _, s := range t.slots {
		if !s.Free() {
			out = append(out, s)
		}
	}
	return out
}

// Reset frees every slot and returns how many were occupied.
func (t *SlotTable) Reset() int {
	n := t.InUse()
	for i := range t.slots {
		t.slots[i] = Slot{}
	}
	return n
}
