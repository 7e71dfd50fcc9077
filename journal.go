package journal

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/executor"
	"github.com/cqkv/journal/filerepo"
	"github.com/cqkv/journal/fio"
	"github.com/cqkv/journal/keydir"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

type state int32

const (
	stateStopped state = iota
	stateStarted
	stateLoaded
)

func (s state) String() string {
	switch s {
	case stateStarted:
		return "STARTED"
	case stateLoaded:
		return "LOADED"
	}
	return "STOPPED"
}

// IOCompletion is notified about an asynchronous append. StoreLineUp is called
// once the record is queued, then exactly one of Done or OnError.
type IOCompletion interface {
	StoreLineUp()
	Done()
	OnError(code int, message string)
}

// ReplicationSender mirrors every record appended to the journal. Send is
// called under the append lock, in append order.
type ReplicationSender interface {
	Send(fileID int64, record []byte)
}

// Journal is an append only record journal over a directory of fixed size files.
type Journal struct {
	opts  *options
	state atomic.Int32

	factory fio.SequentialFileFactory
	flock   *flock.Flock
	repo    *filerepo.Repository

	filesExecutor     *executor.Ordered
	compactorExecutor *executor.Ordered
	ownsExecutors     bool

	// appendLock serializes file selection and writes. compactingLock is held
	// shared by appenders and exclusively while compaction swaps files.
	appendLock     sync.Mutex
	compactingLock sync.RWMutex

	currentFile  *model.JournalFile
	records      keydir.Keydir
	transactions map[int64]*transaction
	compactor    *compactor

	reclaimMu        sync.Mutex
	autoReclaim      atomic.Bool
	compactorRunning atomic.Bool
}

func New(dirPath string, opts ...Option) (*Journal, error) {
	o := defaultOptions(dirPath)
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.logger != nil {
		log.SetLogger(o.logger)
	}
	if o.keydir == nil {
		o.keydir = keydir.NewBTree(0)
	}
	if o.factory == nil {
		o.factory = fio.NewFileFactory(dirPath)
	}

	return &Journal{
		opts:         o,
		factory:      o.factory,
		records:      o.keydir,
		transactions: make(map[int64]*transaction),
	}, nil
}

func (j *Journal) getState() state {
	return state(j.state.Load())
}

func (j *Journal) checkLoaded(op string) error {
	if j.getState() != stateLoaded {
		return &Error{Kind: KindNotLoaded, Op: op}
	}
	return nil
}

// Start locks the directory and prepares the executors and the file factory.
func (j *Journal) Start() error {
	if s := j.getState(); s != stateStopped {
		return newError(KindInvalidState, "start", "journal is %s", s)
	}
	if err := j.factory.Start(); err != nil {
		return wrapIO("start", err)
	}

	lock := fio.NewFlock(j.factory.Dir())
	ok, err := lock.TryLock()
	if err != nil {
		_ = j.factory.Stop()
		return wrapIO("start", err)
	}
	if !ok {
		_ = j.factory.Stop()
		return &Error{Kind: KindDirInUse, Op: "start", Err: fmt.Errorf("%s", j.factory.Dir())}
	}
	j.flock = lock

	if j.opts.filesExecutor != nil && j.opts.compactorExecutor != nil {
		j.filesExecutor = j.opts.filesExecutor
		j.compactorExecutor = j.opts.compactorExecutor
		j.ownsExecutors = false
	} else {
		j.filesExecutor = executor.NewOrdered("journal-files")
		j.compactorExecutor = executor.NewOrdered("journal-compactor")
		j.ownsExecutors = true
	}

	j.repo = filerepo.New(j.factory, j.filesExecutor, filerepo.Config{
		FileSize:    j.opts.fileSize,
		MinFiles:    j.opts.minFiles,
		PoolSize:    j.opts.poolSize,
		Prefix:      j.opts.filePrefix,
		Extension:   j.opts.fileExtension,
		UserVersion: j.opts.userVersion,
	})
	j.autoReclaim.Store(j.opts.autoReclaim)
	j.state.Store(int32(stateStarted))
	log.Debug("journal started: %s", j.opts)
	return nil
}

// Stop waits for a running compaction, closes every file and releases the directory.
func (j *Journal) Stop() error {
	if j.getState() == stateStopped {
		return nil
	}
	_ = j.compactorExecutor.Flush()

	j.compactingLock.Lock()
	j.appendLock.Lock()
	j.state.Store(int32(stateStopped))
	var firstErr error
	if j.currentFile != nil {
		firstErr = j.currentFile.File.Close()
		j.currentFile = nil
	}
	j.transactions = make(map[int64]*transaction)
	j.records.Ascend(func(id int64, _ *model.JournalRecord) bool {
		j.records.Delete(id)
		return true
	})
	j.appendLock.Unlock()
	j.compactingLock.Unlock()

	if j.ownsExecutors {
		j.compactorExecutor.Shutdown()
	} else {
		_ = j.compactorExecutor.Flush()
	}
	if err := j.repo.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	j.repo.Clear()
	if j.ownsExecutors {
		j.filesExecutor.Shutdown()
	}
	if err := j.factory.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.flock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	log.Debug("journal stopped: %s", j.factory.Dir())
	return wrapIO("stop", firstErr)
}

func (j *Journal) IsStarted() bool {
	return j.getState() != stateStopped
}

func (j *Journal) IsLoaded() bool {
	return j.getState() == stateLoaded
}

// SetAutoReclaim turns the reclaim scan after every file rollover on or off.
func (j *Journal) SetAutoReclaim(enabled bool) {
	j.autoReclaim.Store(enabled)
}

func (j *Journal) AutoReclaim() bool {
	return j.autoReclaim.Load()
}

func (j *Journal) FileSize() int {
	return j.opts.fileSize
}

func (j *Journal) UserVersion() int32 {
	return j.opts.userVersion
}

func (j *Journal) DataFilesCount() int {
	return j.repo.DataFilesCount()
}

func (j *Journal) FreeFilesCount() int {
	return j.repo.FreeFilesCount()
}

func (j *Journal) OpenedFilesCount() int {
	return j.repo.OpenedFilesCount()
}

// DataFiles returns the data files ordered by id, the current file excluded.
func (j *Journal) DataFiles() []*model.JournalFile {
	return j.repo.DataFiles()
}

func (j *Journal) RecordCount() int {
	return j.records.Len()
}

func (j *Journal) TransactionCount() int {
	j.appendLock.Lock()
	defer j.appendLock.Unlock()
	return len(j.transactions)
}

// CurrentFileID returns the id of the file receiving appends, -1 when there is none.
func (j *Journal) CurrentFileID() int64 {
	j.appendLock.Lock()
	defer j.appendLock.Unlock()
	if j.currentFile == nil {
		return -1
	}
	return j.currentFile.ID()
}

// Debug describes every file and its reclaim accounting.
func (j *Journal) Debug() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "journal %s state=%s records=%d\n", j.factory.Dir(), j.getState(), j.records.Len())
	if j.repo == nil {
		return sb.String()
	}

	files := j.repo.DataFiles()
	j.appendLock.Lock()
	current := j.currentFile
	txCount := len(j.transactions)
	j.appendLock.Unlock()
	if current != nil {
		files = append(files, current)
	}

	for _, f := range files {
		fmt.Fprintf(&sb, "%s\n", f)
		for _, other := range files {
			if n := f.NegCount(other); n != 0 {
				fmt.Fprintf(&sb, "\tneg against %d: %d\n", other.ID(), n)
			}
		}
	}
	fmt.Fprintf(&sb, "transactions=%d free=%d opened=%d\n", txCount, j.repo.FreeFilesCount(), j.repo.OpenedFilesCount())
	return sb.String()
}

// maxRecordSize is the largest record a file can hold.
func (j *Journal) maxRecordSize(file *model.JournalFile) int {
	return j.opts.fileSize - int(file.File.CalculateBlockStart(codec.SizeHeader))
}
