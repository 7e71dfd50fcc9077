package fio

import (
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	"github.com/cqkv/journal/executor"
)

var ErrWriterStopped = errors.New("file factory writer is stopped")

// FileFactory creates FileIO files inside one directory. All asynchronous
// writes of its files go through a single ordered writer.
type FileFactory struct {
	dir       string
	alignment int

	mu       sync.Mutex
	writer   *executor.Ordered
	ownsWrtr bool
}

var _ SequentialFileFactory = (*FileFactory)(nil)

type FactoryOption func(*FileFactory)

// WithWriter makes the factory use a writer owned by the caller.
func WithWriter(writer *executor.Ordered) FactoryOption {
	return func(f *FileFactory) {
		f.writer = writer
	}
}

func WithAlignment(alignment int) FactoryOption {
	return func(f *FileFactory) {
		if alignment > 0 {
			f.alignment = alignment
		}
	}
}

func NewFileFactory(dir string, opts ...FactoryOption) *FileFactory {
	f := &FileFactory{
		dir:       dir,
		alignment: 1,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FileFactory) Dir() string {
	return f.dir
}

func (f *FileFactory) CreateSequentialFile(name string) SequentialFile {
	return &FileIO{factory: f, name: name}
}

// ListFiles returns the names of the regular files ending in "."+extension,
// sorted by name.
func (f *FileFactory) ListFiles(extension string) ([]string, error) {
	g, err := glob.Compile("*." + extension)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !g.Match(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileFactory) Alignment() int {
	return f.alignment
}

// NewBuffer returns a zeroed buffer whose size is rounded up to the alignment.
func (f *FileFactory) NewBuffer(size int) []byte {
	aligned := (size + f.alignment - 1) / f.alignment * f.alignment
	return make([]byte, aligned)
}

func (f *FileFactory) Start() error {
	if err := os.MkdirAll(f.dir, os.ModePerm); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writer == nil {
		f.writer = executor.NewOrdered("journal-writer")
		f.ownsWrtr = true
	}
	return nil
}

// Stop drains the writer. A writer passed with WithWriter is left running.
func (f *FileFactory) Stop() error {
	f.mu.Lock()
	writer, owns := f.writer, f.ownsWrtr
	if owns {
		f.writer = nil
		f.ownsWrtr = false
	}
	f.mu.Unlock()

	if writer == nil {
		return nil
	}
	if owns {
		writer.Shutdown()
		return nil
	}
	return writer.Flush()
}

func (f *FileFactory) currentWriter() *executor.Ordered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer
}

func (f *FileFactory) flush() error {
	writer := f.currentWriter()
	if writer == nil {
		return ErrWriterStopped
	}
	if err := writer.Flush(); err != nil {
		return ErrWriterStopped
	}
	return nil
}
