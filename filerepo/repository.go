package filerepo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/matryer/try.v1"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/executor"
	"github.com/cqkv/journal/fio"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

const (
	CompactExtension = "cmp"

	openRetryDelay = 20 * time.Millisecond
)

var (
	ErrNoOpenedFile    = errors.New("no pre-opened journal file available")
	ErrVersionMismatch = errors.New("journal file version mismatch")
)

type Config struct {
	FileSize    int
	MinFiles    int
	PoolSize    int // spare files kept for reuse, negative means no limit
	Prefix      string
	Extension   string
	UserVersion int32
}

// Repository owns the journal files: free files wait for reuse, opened files
// are pre-filled and ready to become current, data files hold records.
// File ids are handed out from one counter and never reused.
type Repository struct {
	cfg      Config
	factory  fio.SequentialFileFactory
	executor executor.Executor

	nextFileID atomic.Int64

	mu          sync.Mutex
	dataFiles   []*model.JournalFile
	freeFiles   []*model.JournalFile
	openedFiles []*model.JournalFile
	pushing     bool
}

// New returns a repository running its background work on exec, which must
// run tasks in submission order.
func New(factory fio.SequentialFileFactory, exec executor.Executor, cfg Config) *Repository {
	return &Repository{
		cfg:      cfg,
		factory:  factory,
		executor: exec,
	}
}

func (r *Repository) FileName(id int64) string {
	return fmt.Sprintf("%s-%d.%s", r.cfg.Prefix, id, r.cfg.Extension)
}

func (r *Repository) CompactFileName(id int64) string {
	return fmt.Sprintf("%s-%d.%s", r.cfg.Prefix, id, CompactExtension)
}

func (r *Repository) FileSize() int {
	return r.cfg.FileSize
}

// SetNextFileID raises the id counter to at least id.
func (r *Repository) SetNextFileID(id int64) {
	for {
		cur := r.nextFileID.Load()
		if id <= cur || r.nextFileID.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (r *Repository) NextFileID() int64 {
	return r.nextFileID.Load()
}

func (r *Repository) GenerateFileID() int64 {
	return r.nextFileID.Add(1) - 1
}

// ReserveIDs takes n consecutive ids and returns the first one.
func (r *Repository) ReserveIDs(n int) int64 {
	return r.nextFileID.Add(int64(n)) - int64(n)
}

// OrderFiles opens every journal file of the directory, reads its header and
// returns the files sorted by file id. The id counter is moved past the
// highest id found.
func (r *Repository) OrderFiles() ([]*model.JournalFile, error) {
	names, err := r.factory.ListFiles(r.cfg.Extension)
	if err != nil {
		return nil, err
	}

	files := make([]*model.JournalFile, 0, len(names))
	for _, name := range names {
		file := r.factory.CreateSequentialFile(name)
		header, ok, err := readHeader(file)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Warn("journal file %s is shorter than its header, deleting it", name)
			if err := file.Delete(); err != nil {
				return nil, err
			}
			continue
		}
		if header.FormatVersion < 1 || header.FormatVersion > codec.FormatVersion {
			return nil, fmt.Errorf("%w: %s has format version %d, supported up to %d",
				ErrVersionMismatch, name, header.FormatVersion, codec.FormatVersion)
		}
		if header.UserVersion != r.cfg.UserVersion {
			return nil, fmt.Errorf("%w: %s has user version %d, expected %d",
				ErrVersionMismatch, name, header.UserVersion, r.cfg.UserVersion)
		}
		files = append(files, model.NewJournalFile(file, header.FileID, header.FormatVersion))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID() < files[j].ID() })
	if len(files) > 0 {
		r.SetNextFileID(files[len(files)-1].ID() + 1)
	}
	return files, nil
}

func readHeader(file fio.SequentialFile) (codec.FileHeader, bool, error) {
	if err := file.Open(); err != nil {
		return codec.FileHeader{}, false, err
	}
	defer file.Close()

	buf := make([]byte, codec.SizeHeader)
	n, _ := file.Read(buf, 0)
	if n < codec.SizeHeader {
		return codec.FileHeader{}, false, nil
	}
	header, ok := codec.DecodeFileHeader(buf)
	return header, ok, nil
}

func (r *Repository) writeHeader(file fio.SequentialFile, id int64) error {
	buf := codec.NewBuffer(codec.SizeHeader)
	codec.EncodeFileHeader(buf, r.cfg.UserVersion, id)
	return file.WriteDirectAt(buf.Bytes(), 0, true)
}

// createFile creates, fills and stamps a new file. The file is left open.
func (r *Repository) createFile(id int64) (*model.JournalFile, error) {
	file := r.factory.CreateSequentialFile(r.FileName(id))
	if err := file.Open(); err != nil {
		return nil, err
	}
	if err := file.Fill(r.cfg.FileSize); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := r.writeHeader(file, id); err != nil {
		_ = file.Close()
		return nil, err
	}
	file.SetPosition(file.CalculateBlockStart(codec.SizeHeader))
	return model.NewJournalFile(file, id, codec.FormatVersion), nil
}

// EnsureMinFiles creates free files until the repository holds MinFiles files.
func (r *Repository) EnsureMinFiles() error {
	r.mu.Lock()
	missing := r.cfg.MinFiles - (len(r.dataFiles) + len(r.freeFiles) + len(r.openedFiles))
	r.mu.Unlock()

	for i := 0; i < missing; i++ {
		jf, err := r.createFile(r.GenerateFileID())
		if err != nil {
			return err
		}
		if err := jf.File.Close(); err != nil {
			return err
		}
		r.mu.Lock()
		r.freeFiles = append(r.freeFiles, jf)
		r.mu.Unlock()
	}
	return nil
}

// OpenFile takes a pre-opened file and stamps it with a new id, it becomes the
// next current file. Only the append path may call it.
func (r *Repository) OpenFile() (*model.JournalFile, error) {
	var next *model.JournalFile
	err := try.Do(func(attempt int) (bool, error) {
		next = r.pollOpenedFile()
		if next != nil {
			return false, nil
		}
		r.scheduleOpen()
		time.Sleep(time.Duration(attempt) * openRetryDelay)
		return true, ErrNoOpenedFile
	})
	if err != nil {
		if try.IsMaxRetries(err) {
			return nil, ErrNoOpenedFile
		}
		return nil, err
	}
	r.scheduleOpen()

	id := r.GenerateFileID()
	file := next.File
	if err := r.writeHeader(file, id); err != nil {
		return nil, err
	}
	if err := file.RenameTo(r.FileName(id)); err != nil {
		return nil, err
	}
	file.SetPosition(file.CalculateBlockStart(codec.SizeHeader))
	log.Debug("opened journal file %s", file.FileName())
	return model.NewJournalFile(file, id, codec.FormatVersion), nil
}

func (r *Repository) pollOpenedFile() *model.JournalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.openedFiles) == 0 {
		return nil
	}
	next := r.openedFiles[0]
	r.openedFiles = r.openedFiles[1:]
	return next
}

// scheduleOpen makes sure one file gets pre-opened in the background.
func (r *Repository) scheduleOpen() {
	r.mu.Lock()
	if r.pushing || len(r.openedFiles) > 0 {
		r.mu.Unlock()
		return
	}
	r.pushing = true
	r.mu.Unlock()

	err := r.executor.Execute(func() {
		err := r.pushOpenedFile()
		r.mu.Lock()
		r.pushing = false
		r.mu.Unlock()
		if err != nil {
			log.Error("failed to pre-open journal file: %v", err)
		}
	})
	if err != nil {
		r.mu.Lock()
		r.pushing = false
		r.mu.Unlock()
		log.Warn("cannot schedule journal file opening: %v", err)
	}
}

func (r *Repository) pushOpenedFile() error {
	r.mu.Lock()
	var next *model.JournalFile
	if len(r.freeFiles) > 0 {
		next = r.freeFiles[0]
		r.freeFiles = r.freeFiles[1:]
	}
	r.mu.Unlock()

	if next == nil {
		created, err := r.createFile(r.GenerateFileID())
		if err != nil {
			return err
		}
		next = created
	} else if err := r.reopen(next); err != nil {
		return err
	}

	r.mu.Lock()
	r.openedFiles = append(r.openedFiles, next)
	r.mu.Unlock()
	return nil
}

// reopen opens a free file, growing it back to the file size when it was
// found truncated.
func (r *Repository) reopen(jf *model.JournalFile) error {
	if err := jf.File.Open(); err != nil {
		return err
	}
	size, err := jf.File.Size()
	if err != nil {
		_ = jf.File.Close()
		return err
	}
	if size >= int64(r.cfg.FileSize) {
		return nil
	}
	if err := jf.File.Fill(r.cfg.FileSize); err != nil {
		_ = jf.File.Close()
		return err
	}
	return r.writeHeader(jf.File, jf.ID())
}

// CloseFile turns a file that stopped being current into a data file. The
// descriptor is closed in the background.
func (r *Repository) CloseFile(jf *model.JournalFile) {
	r.AddDataFile(jf)
	err := r.executor.Execute(func() {
		if err := jf.File.Close(); err != nil {
			log.Error("failed to close journal file %s: %v", jf.File.FileName(), err)
		}
	})
	if err != nil {
		if err := jf.File.Close(); err != nil {
			log.Error("failed to close journal file %s: %v", jf.File.FileName(), err)
		}
	}
}

// AddFreeFile returns a file that is no longer needed to the free pool,
// stamped with a fresh id so its old records are never read again. With
// initialize the content is zeroed first. Files beyond the pool size are deleted.
func (r *Repository) AddFreeFile(jf *model.JournalFile, initialize bool) error {
	r.waitBackground()

	if !r.reusable() {
		log.Debug("deleting journal file %s, pool is full", jf.File.FileName())
		return jf.File.Delete()
	}

	file := jf.File
	if err := file.Open(); err != nil {
		return err
	}
	if initialize {
		if err := file.Fill(r.cfg.FileSize); err != nil {
			_ = file.Close()
			return err
		}
	}
	id := r.GenerateFileID()
	if err := r.writeHeader(file, id); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.RenameTo(r.FileName(id)); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	r.mu.Lock()
	r.freeFiles = append(r.freeFiles, model.NewJournalFile(file, id, codec.FormatVersion))
	r.mu.Unlock()
	return nil
}

// AddLoadedFreeFile adds a file found without records on load. It is already
// unreadable under its own id, so it keeps its header.
func (r *Repository) AddLoadedFreeFile(jf *model.JournalFile) error {
	if !r.reusable() {
		return jf.File.Delete()
	}
	if err := jf.File.Close(); err != nil {
		return err
	}
	r.mu.Lock()
	r.freeFiles = append(r.freeFiles, jf)
	r.mu.Unlock()
	return nil
}

func (r *Repository) reusable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.PoolSize < 0 || len(r.freeFiles)+len(r.openedFiles) < r.cfg.PoolSize
}

// waitBackground waits for the background tasks submitted so far, a file
// being closed there must not be reopened concurrently.
func (r *Repository) waitBackground() {
	done := make(chan struct{})
	if err := r.executor.Execute(func() { close(done) }); err != nil {
		return
	}
	<-done
}

// CreateCompactFile creates the filled compaction output file for id. The
// caller writes the header and records.
func (r *Repository) CreateCompactFile(id int64) (*model.JournalFile, error) {
	file := r.factory.CreateSequentialFile(r.CompactFileName(id))
	if err := file.Open(); err != nil {
		return nil, err
	}
	if err := file.Fill(r.cfg.FileSize); err != nil {
		_ = file.Close()
		return nil, err
	}
	return model.NewJournalFile(file, id, codec.FormatVersion), nil
}

func (r *Repository) AddDataFile(jf *model.JournalFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertDataFile(jf)
}

func (r *Repository) AddDataFiles(files []*model.JournalFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, jf := range files {
		r.insertDataFile(jf)
	}
}

// insertDataFile keeps the data files ordered by id.
func (r *Repository) insertDataFile(jf *model.JournalFile) {
	idx := sort.Search(len(r.dataFiles), func(i int) bool { return r.dataFiles[i].ID() >= jf.ID() })
	if idx < len(r.dataFiles) && r.dataFiles[idx] == jf {
		return
	}
	r.dataFiles = append(r.dataFiles, nil)
	copy(r.dataFiles[idx+1:], r.dataFiles[idx:])
	r.dataFiles[idx] = jf
}

func (r *Repository) RemoveDataFile(jf *model.JournalFile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.dataFiles {
		if f == jf {
			r.dataFiles = append(r.dataFiles[:i], r.dataFiles[i+1:]...)
			return true
		}
	}
	return false
}

// ClearDataFiles removes and returns every data file.
func (r *Repository) ClearDataFiles() []*model.JournalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := r.dataFiles
	r.dataFiles = nil
	return files
}

// PollLastDataFile removes and returns the data file with the highest id.
func (r *Repository) PollLastDataFile() *model.JournalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.dataFiles) == 0 {
		return nil
	}
	last := r.dataFiles[len(r.dataFiles)-1]
	r.dataFiles = r.dataFiles[:len(r.dataFiles)-1]
	return last
}

func (r *Repository) DataFiles() []*model.JournalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.JournalFile(nil), r.dataFiles...)
}

func (r *Repository) FreeFiles() []*model.JournalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.JournalFile(nil), r.freeFiles...)
}

func (r *Repository) OpenedFiles() []*model.JournalFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.JournalFile(nil), r.openedFiles...)
}

func (r *Repository) DataFilesCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dataFiles)
}

func (r *Repository) FreeFilesCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.freeFiles)
}

func (r *Repository) OpenedFilesCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.openedFiles)
}

// Stop waits for the background tasks and closes every file the repository holds.
func (r *Repository) Stop() error {
	r.waitBackground()

	r.mu.Lock()
	files := make([]*model.JournalFile, 0, len(r.dataFiles)+len(r.freeFiles)+len(r.openedFiles))
	files = append(files, r.dataFiles...)
	files = append(files, r.freeFiles...)
	files = append(files, r.openedFiles...)
	r.mu.Unlock()

	var firstErr error
	for _, jf := range files {
		if err := jf.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear forgets every file, used when the journal stops.
func (r *Repository) Clear() {
	r.mu.Lock()
	r.dataFiles = nil
	r.freeFiles = nil
	r.openedFiles = nil
	r.mu.Unlock()
}
