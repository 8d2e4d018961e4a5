package model

import (
	"fmt"
)

const (
	// InvalidContainer is the container number of MaxLocator.
	InvalidContainer uint32 = 0xFFFFFFFF

	// MaxSlot is the largest valid slot number.
	MaxSlot uint16 = 0xFFFE

	// LossySlot marks a lossy (whole container) locator.
	LossySlot uint16 = 0xFFFF
)

// Locator identifies one indexed row by container and slot.
type Locator struct {
	Container uint32
	Slot      uint16
}

var (
	// MinLocator sorts before every valid locator.
	MinLocator = Locator{}

	// MaxLocator sorts after every valid locator.
	MaxLocator = Locator{Container: InvalidContainer, Slot: MaxSlot}
)

// Lossy returns the lossy locator for container.
func Lossy(container uint32) Locator {
	return Locator{Container: container, Slot: LossySlot}
}

// LocatorFromUint64 is the inverse of Locator.Uint64.
func LocatorFromUint64(v uint64) Locator {
	return Locator{Container: uint32(v >> 16), Slot: uint16(v)}
}

// Uint64 returns the numeric form container<<16 | slot.
func (l Locator) Uint64() uint64 {
	return uint64(l.Container)<<16 | uint64(l.Slot)
}

// Compare returns -1, 0 or +1.
func (l Locator) Compare(o Locator) int {
	switch {
	case l.Container < o.Container:
		return -1
	case l.Container > o.Container:
		return 1
	case l.Slot < o.Slot:
		return -1
	case l.Slot > o.Slot:
		return 1
	}
	return 0
}

// Less reports whether l sorts before o.
func (l Locator) Less(o Locator) bool { return l.Compare(o) < 0 }

// IsMin reports whether l is MinLocator.
func (l Locator) IsMin() bool { return l == MinLocator }

// IsMax reports whether l is MaxLocator.
func (l Locator) IsMax() bool { return l == MaxLocator }

// IsLossy reports whether l addresses a whole container.
func (l Locator) IsLossy() bool { return l.Slot == LossySlot }

// IsValid reports whether l addresses a real row.
func (l Locator) IsValid() bool {
	return l.Slot >= 1 && l.Slot <= MaxSlot && l.Container != InvalidContainer
}

// Prev returns the locator immediately before l in numeric order.
// Prev of MinLocator is MinLocator.
func (l Locator) Prev() Locator {
	v := l.Uint64()
	if v == 0 {
		return l
	}
	return LocatorFromUint64(v - 1)
}

// String returns a string representation of the Locator.
func (l Locator) String() string {
	switch {
	case l.IsMin():
		return "Loc(min)"
	case l.IsMax():
		return "Loc(max)"
	case l.IsLossy():
		return fmt.Sprintf("Loc(%d:lossy)", l.Container)
	}
	return fmt.Sprintf("Loc(%d:%d)", l.Container, l.Slot)
}
