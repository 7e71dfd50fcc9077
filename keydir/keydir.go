package keydir

import (
	"fmt"
	"sort"

	"github.com/cqkv/journal/model"
)

// Keydir is the live record index: record id -> JournalRecord.
// you can use some other data structure once you implement this interface
type Keydir interface {
	Put(id int64, rec *model.JournalRecord)
	Get(id int64) *model.JournalRecord
	// Delete removes id and returns what was stored, nil if nothing was.
	Delete(id int64) *model.JournalRecord
	Len() int
	// Ascend calls fn for every entry in increasing id order until fn returns false.
	Ascend(fn func(id int64, rec *model.JournalRecord) bool)
}

const (
	BTreeName   = "btree"
	HashMapName = "hashmap"
)

var registry = map[string]func() Keydir{
	BTreeName:   func() Keydir { return NewBTree(defaultDegree) },
	HashMapName: func() Keydir { return NewHashMap() },
}

// New returns the keydir registered under name.
func New(name string) (Keydir, error) {
	create, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown keydir %q, expected one of %v", name, Names())
	}
	return create(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
