package journal

import (
	"errors"
	"sort"
	"sync"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/utils/log"
)

var ErrExceedMaxBatchNum = &Error{Kind: KindInvalidState, Op: "batch", Err: errors.New("exceed max batch num")}

const DefaultMaxBatchNum = 10000

type batchOptions struct {
	maxBatchNum int
	sync        bool
}

type BatchOption func(*batchOptions)

func WithMaxBatchNum(n int) BatchOption {
	return func(o *batchOptions) {
		o.maxBatchNum = n
	}
}

// WithBatchSync makes Commit wait for the commit record to reach the disk.
func WithBatchSync(sync bool) BatchOption {
	return func(o *batchOptions) {
		o.sync = sync
	}
}

type opKind int

const (
	opAdd opKind = iota
	opUpdate
	opDelete
)

type batchOp struct {
	kind     opKind
	userType byte
	body     []byte
}

// Batch buffers adds, updates and deletes and writes them as one transaction.
// Only the last operation per record id is kept.
type Batch struct {
	mu *sync.Mutex

	j             *Journal
	txID          int64
	options       *batchOptions
	pendingWrites map[int64]*batchOp
}

func (j *Journal) NewBatch(txID int64, options ...BatchOption) *Batch {
	opts := &batchOptions{maxBatchNum: DefaultMaxBatchNum}
	for _, opt := range options {
		opt(opts)
	}

	return &Batch{
		mu:            new(sync.Mutex),
		j:             j,
		txID:          txID,
		options:       opts,
		pendingWrites: make(map[int64]*batchOp),
	}
}

func (b *Batch) full(id int64) bool {
	_, ok := b.pendingWrites[id]
	return !ok && len(b.pendingWrites) >= b.options.maxBatchNum
}

func (b *Batch) Add(id int64, userType byte, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full(id) {
		return ErrExceedMaxBatchNum
	}
	kind := opAdd
	// re-adding a record the batch deletes replaces it
	if op, ok := b.pendingWrites[id]; ok && op.kind == opDelete {
		kind = opUpdate
	}
	b.pendingWrites[id] = &batchOp{kind: kind, userType: userType, body: body}
	return nil
}

func (b *Batch) Update(id int64, userType byte, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full(id) {
		return ErrExceedMaxBatchNum
	}
	kind := opUpdate
	if op, ok := b.pendingWrites[id]; ok && op.kind == opAdd {
		kind = opAdd
	}
	b.pendingWrites[id] = &batchOp{kind: kind, userType: userType, body: body}
	return nil
}

func (b *Batch) Delete(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// if the record does not exist, drop what the batch holds for it
	if b.j.records.Get(id) == nil {
		delete(b.pendingWrites, id)
		return nil
	}
	if b.full(id) {
		return ErrExceedMaxBatchNum
	}
	b.pendingWrites[id] = &batchOp{kind: opDelete}
	return nil
}

// Len returns the number of buffered operations.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pendingWrites)
}

// Commit writes the buffered operations in record id order followed by the
// commit record. When a write fails the transaction is rolled back.
func (b *Batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pendingWrites) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(b.pendingWrites))
	for id := range b.pendingWrites {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(x, y int) bool { return ids[x] < ids[y] })

	for _, id := range ids {
		op := b.pendingWrites[id]
		var err error
		switch op.kind {
		case opAdd:
			err = b.j.AppendAddRecordTxAsync(b.txID, id, op.userType, codec.ByteArray(op.body), nil)
		case opUpdate:
			err = b.j.AppendUpdateRecordTxAsync(b.txID, id, op.userType, codec.ByteArray(op.body), nil)
		case opDelete:
			err = b.j.AppendDeleteRecordTxAsync(b.txID, id, nil, nil)
		}
		if err != nil {
			b.abort()
			return err
		}
	}

	if err := b.j.AppendCommitRecord(b.txID, b.options.sync); err != nil {
		return err
	}
	b.pendingWrites = make(map[int64]*batchOp)
	return nil
}

func (b *Batch) abort() {
	if err := b.j.AppendRollbackRecord(b.txID, false); err != nil && !errors.Is(err, ErrUnknownTransaction) {
		log.Warn("batch tx %d: rollback failed: %v", b.txID, err)
	}
}

// Rollback drops the buffered operations, nothing has been written yet.
func (b *Batch) Rollback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingWrites = make(map[int64]*batchOp)
}
