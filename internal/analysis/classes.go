package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// COCO class ids of the default tracked classes
const (
	ClassPerson     = 0
	ClassBicycle    = 1
	ClassCar        = 2
	ClassMotorcycle = 3
	ClassBus        = 5
	ClassTruck      = 7
)

// ClassTable maps detector class ids to names. Only classes in the table are
// counted per class; every detection still counts toward the frame total.
type ClassTable struct {
	ids   []int
	names map[int]string
}

// DefaultClassTable returns the person/vehicle table used for crash analysis.
func DefaultClassTable() ClassTable {
	t, _ := NewClassTable(map[int]string{
		ClassPerson:     "person",
		ClassBicycle:    "bicycle",
		ClassCar:        "car",
		ClassMotorcycle: "motorcycle",
		ClassBus:        "bus",
		ClassTruck:      "truck",
	})
	return t
}

// NewClassTable builds a table from an id -> name map.
func NewClassTable(names map[int]string) (ClassTable, error) {
	t := ClassTable{names: make(map[int]string, len(names))}
	seen := make(map[string]int, len(names))
	for id, name := range names {
		if id < 0 {
			return ClassTable{}, fmt.Errorf("class id %d is negative", id)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return ClassTable{}, fmt.Errorf("class id %d has an empty name", id)
		}
		if other, dup := seen[name]; dup {
			return ClassTable{}, fmt.Errorf("class name %q used by ids %d and %d", name, other, id)
		}
		seen[name] = id
		t.names[id] = name
		t.ids = append(t.ids, id)
	}
	sort.Ints(t.ids)
	return t, nil
}

// ParseClassTable builds a table from string keys, as found in JSON config files.
func ParseClassTable(raw map[string]string) (ClassTable, error) {
	names := make(map[int]string, len(raw))
	for key, name := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return ClassTable{}, fmt.Errorf("invalid class id %q: %w", key, err)
		}
		names[id] = name
	}
	return NewClassTable(names)
}

// Lookup returns the name of a tracked class.
func (t ClassTable) Lookup(id int) (string, bool) {
	name, ok := t.names[id]
	return name, ok
}

// Name returns the class name, or "class_<id>" for classes outside the table.
func (t ClassTable) Name(id int) string {
	if name, ok := t.names[id]; ok {
		return name
	}
	return "class_" + strconv.Itoa(id)
}

// IDs returns the tracked class ids in ascending order.
func (t ClassTable) IDs() []int {
	out := make([]int, len(t.ids))
	copy(out, t.ids)
	return out
}

// Len returns the number of tracked classes.
func (t ClassTable) Len() int {
	return len(t.ids)
}
