package model

import (
	"bytes"
	"fmt"
)

// Category classifies a key. Categories compare before key values.
type Category int8

const (
	// CategoryEmptyQuery is a query-only marker that matches every entry.
	CategoryEmptyQuery Category = -1
	// CategoryNormal keys carry a comparable value.
	CategoryNormal Category = 0
	// CategoryNull is a null key value.
	CategoryNull Category = 1
	// CategoryEmptyItem is the placeholder for rows that produced no keys.
	CategoryEmptyItem Category = 2
	// CategoryNullItem is the placeholder for null rows.
	CategoryNullItem Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryEmptyQuery:
		return "empty-query"
	case CategoryNormal:
		return "normal"
	case CategoryNull:
		return "null"
	case CategoryEmptyItem:
		return "empty-item"
	case CategoryNullItem:
		return "null-item"
	default:
		return fmt.Sprintf("category(%d)", int8(c))
	}
}

// Valid reports whether c may be stored in the index.
func (c Category) Valid() bool {
	return c >= CategoryNormal && c <= CategoryNullItem
}

// AddInfo is the optional value attached to a locator inside posting data.
type AddInfo struct {
	Value int64
	Valid bool
}

// Some returns a present AddInfo.
func Some(v int64) AddInfo { return AddInfo{Value: v, Valid: true} }

// Item is one posting: a locator plus its attached value.
type Item struct {
	Locator Locator
	AddInfo AddInfo
}

// String returns a string representation of the Item.
func (it Item) String() string {
	if it.AddInfo.Valid {
		return fmt.Sprintf("%s+%d", it.Locator, it.AddInfo.Value)
	}
	return it.Locator.String()
}

// NewItems wraps locators into items without attached values.
func NewItems(locs ...Locator) []Item {
	out := make([]Item, len(locs))
	for i, l := range locs {
		out[i] = Item{Locator: l}
	}
	return out
}

// Locators returns the locators of items.
func Locators(items []Item) []Locator {
	out := make([]Locator, len(items))
	for i, it := range items {
		out[i] = it.Locator
	}
	return out
}

// Key identifies one entry of the index.
type Key struct {
	Attr     uint16
	Category Category
	Value    []byte
}

// String returns a string representation of the Key.
func (k Key) String() string {
	if k.Category != CategoryNormal {
		return fmt.Sprintf("%d/%s", k.Attr, k.Category)
	}
	return fmt.Sprintf("%d/%q", k.Attr, k.Value)
}

// Equal reports byte-wise equality.
func (k Key) Equal(o Key) bool {
	return k.Attr == o.Attr && k.Category == o.Category && bytes.Equal(k.Value, o.Value)
}

// Clone returns a deep copy of k.
func (k Key) Clone() Key {
	k.Value = bytes.Clone(k.Value)
	return k
}

// Posting is one extracted (key, item) pair.
type Posting struct {
	Key  Key
	Item Item
}
