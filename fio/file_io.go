package fio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const fillChunk = 1 << 20

// FileIO is the default SequentialFile, backed by an *os.File.
type FileIO struct {
	factory *FileFactory

	fdMu sync.RWMutex // guards fd and name
	fd   *os.File
	name string

	posMu    sync.Mutex
	position int64
	fileSize int64
}

var _ SequentialFile = (*FileIO)(nil)

func (fio *FileIO) FileName() string {
	fio.fdMu.RLock()
	defer fio.fdMu.RUnlock()
	return fio.name
}

func (fio *FileIO) Path() string {
	return filepath.Join(fio.factory.dir, fio.FileName())
}

func (fio *FileIO) Open() error {
	fio.fdMu.Lock()
	defer fio.fdMu.Unlock()
	if fio.fd != nil {
		return nil
	}
	fd, err := os.OpenFile(filepath.Join(fio.factory.dir, fio.name), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	info, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return err
	}
	fio.fd = fd

	fio.posMu.Lock()
	fio.fileSize = info.Size()
	fio.posMu.Unlock()
	return nil
}

func (fio *FileIO) IsOpen() bool {
	fio.fdMu.RLock()
	defer fio.fdMu.RUnlock()
	return fio.fd != nil
}

// Close waits for the queued writes, syncs and closes the descriptor.
func (fio *FileIO) Close() error {
	if !fio.IsOpen() {
		return nil
	}
	if err := fio.Flush(); err != nil && err != ErrWriterStopped {
		return err
	}

	fio.fdMu.Lock()
	defer fio.fdMu.Unlock()
	if fio.fd == nil {
		return nil
	}
	syncErr := fio.fd.Sync()
	closeErr := fio.fd.Close()
	fio.fd = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

func (fio *FileIO) Delete() error {
	if err := fio.Close(); err != nil {
		return err
	}
	err := os.Remove(fio.Path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (fio *FileIO) Exists() bool {
	_, err := os.Stat(fio.Path())
	return err == nil
}

func (fio *FileIO) RenameTo(newName string) error {
	fio.fdMu.Lock()
	defer fio.fdMu.Unlock()
	if newName == fio.name {
		return nil
	}
	if err := os.Rename(filepath.Join(fio.factory.dir, fio.name), filepath.Join(fio.factory.dir, newName)); err != nil {
		return err
	}
	fio.name = newName
	return nil
}

func (fio *FileIO) Size() (int64, error) {
	fio.fdMu.RLock()
	fd := fio.fd
	fio.fdMu.RUnlock()
	if fd != nil {
		info, err := fd.Stat()
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	info, err := os.Stat(fio.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (fio *FileIO) Position() int64 {
	fio.posMu.Lock()
	defer fio.posMu.Unlock()
	return fio.position
}

func (fio *FileIO) SetPosition(pos int64) {
	fio.posMu.Lock()
	fio.position = pos
	fio.posMu.Unlock()
}

func (fio *FileIO) Fits(size int) bool {
	fio.posMu.Lock()
	defer fio.posMu.Unlock()
	return fio.position+int64(size) <= fio.fileSize
}

func (fio *FileIO) CalculateBlockStart(pos int64) int64 {
	alignment := int64(fio.factory.Alignment())
	return (pos + alignment - 1) / alignment * alignment
}

// Fill zeroes the file up to size bytes and leaves the position at 0.
func (fio *FileIO) Fill(size int) error {
	fio.fdMu.RLock()
	defer fio.fdMu.RUnlock()
	if fio.fd == nil {
		return ErrFileClosed
	}
	if err := fio.fd.Truncate(0); err != nil {
		return err
	}
	zeros := make([]byte, fillChunk)
	for written := 0; written < size; {
		n := size - written
		if n > fillChunk {
			n = fillChunk
		}
		if _, err := fio.fd.WriteAt(zeros[:n], int64(written)); err != nil {
			return err
		}
		written += n
	}

	fio.posMu.Lock()
	fio.fileSize = int64(size)
	fio.position = 0
	fio.posMu.Unlock()
	return nil
}

func (fio *FileIO) reserve(n int) int64 {
	fio.posMu.Lock()
	defer fio.posMu.Unlock()
	offset := fio.position
	fio.position += int64(n)
	return offset
}

func (fio *FileIO) Write(data []byte, sync bool, callback IOCallback) {
	offset := fio.reserve(len(data))
	writer := fio.factory.currentWriter()
	if writer == nil {
		if callback != nil {
			callback.OnError(ErrCodeIO, ErrWriterStopped.Error())
		}
		return
	}
	err := writer.Execute(func() {
		err := fio.writeAt(data, offset, sync)
		if callback == nil {
			return
		}
		if err != nil {
			callback.OnError(ErrCodeIO, err.Error())
			return
		}
		callback.Done()
	})
	if err != nil && callback != nil {
		callback.OnError(ErrCodeIO, err.Error())
	}
}

func (fio *FileIO) WriteDirect(data []byte, sync bool) error {
	return fio.writeAt(data, fio.reserve(len(data)), sync)
}

func (fio *FileIO) WriteDirectAt(data []byte, offset int64, sync bool) error {
	return fio.writeAt(data, offset, sync)
}

// writeAt with empty data only syncs. Syncing a file that was closed in the
// meantime is a no-op: Close already synced it.
func (fio *FileIO) writeAt(data []byte, offset int64, sync bool) error {
	fio.fdMu.RLock()
	defer fio.fdMu.RUnlock()
	if fio.fd == nil {
		if len(data) == 0 {
			return nil
		}
		return fmt.Errorf("write %s: %w", fio.name, ErrFileClosed)
	}
	if len(data) > 0 {
		if _, err := fio.fd.WriteAt(data, offset); err != nil {
			return err
		}
	}
	if sync {
		return fio.fd.Sync()
	}
	return nil
}

func (fio *FileIO) Read(buf []byte, offset int64) (int, error) {
	fio.fdMu.RLock()
	defer fio.fdMu.RUnlock()
	if fio.fd == nil {
		return 0, ErrFileClosed
	}
	return fio.fd.ReadAt(buf, offset)
}

// ReadAll returns the whole file once the queued writes reached it.
// The file does not need to be open.
func (fio *FileIO) ReadAll() ([]byte, error) {
	if err := fio.Flush(); err != nil && err != ErrWriterStopped {
		return nil, err
	}

	fio.fdMu.RLock()
	defer fio.fdMu.RUnlock()
	if fio.fd == nil {
		return os.ReadFile(filepath.Join(fio.factory.dir, fio.name))
	}
	info, err := fio.fd.Stat()
	if err != nil {
		return nil, err
	}
	data := make([]byte, info.Size())
	n, err := fio.fd.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return data[:n], nil
}

func (fio *FileIO) Sync() error {
	return fio.writeAt(nil, 0, true)
}

// Flush blocks until every write queued so far has been performed.
func (fio *FileIO) Flush() error {
	return fio.factory.flush()
}

func (fio *FileIO) String() string {
	return fio.FileName()
}
