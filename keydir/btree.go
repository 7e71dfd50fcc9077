package keydir

import (
	"sync"

	"github.com/google/btree"

	"github.com/cqkv/journal/model"
)

var _ Keydir = (*BTree)(nil)

const defaultDegree = 32

// BTree implement the keydir
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

// Item implement the btree.Item interface
type Item struct {
	id  int64
	rec *model.JournalRecord
}

func (i *Item) Less(than btree.Item) bool {
	return i.id < than.(*Item).id
}

func NewBTree(degree int) *BTree {
	if degree <= 0 {
		degree = defaultDegree
	}
	return &BTree{
		tree: btree.New(degree),
		lock: &sync.RWMutex{},
	}
}

func (bt *BTree) Put(id int64, rec *model.JournalRecord) {
	bt.lock.Lock()
	bt.tree.ReplaceOrInsert(&Item{id: id, rec: rec})
	bt.lock.Unlock()
}

func (bt *BTree) Get(id int64) *model.JournalRecord {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	btItem := bt.tree.Get(&Item{id: id})
	if btItem == nil {
		return nil
	}
	return btItem.(*Item).rec
}

func (bt *BTree) Delete(id int64) *model.JournalRecord {
	bt.lock.Lock()
	res := bt.tree.Delete(&Item{id: id})
	bt.lock.Unlock()
	if res == nil {
		return nil
	}
	return res.(*Item).rec
}

func (bt *BTree) Len() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

// Ascend iterates over a copy taken under the read lock, fn may call back into the tree.
func (bt *BTree) Ascend(fn func(id int64, rec *model.JournalRecord) bool) {
	bt.lock.RLock()
	items := make([]*Item, 0, bt.tree.Len())
	bt.tree.Ascend(func(item btree.Item) bool {
		items = append(items, item.(*Item))
		return true
	})
	bt.lock.RUnlock()

	for _, item := range items {
		if !fn(item.id, item.rec) {
			return
		}
	}
}
