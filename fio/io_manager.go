package fio

// SequentialFile is one journal file. Write reserves its position when called
// and performs the I/O later on the factory writer, so records land in the order
// Write was called. The Direct variants perform the I/O before returning.
type SequentialFile interface {
	FileName() string
	Path() string

	Open() error
	IsOpen() bool
	Close() error
	Delete() error
	Exists() bool
	RenameTo(newName string) error
	Size() (int64, error)

	Position() int64
	SetPosition(pos int64)
	Fits(size int) bool
	CalculateBlockStart(pos int64) int64

	Fill(size int) error
	Write(data []byte, sync bool, callback IOCallback)
	WriteDirect(data []byte, sync bool) error
	WriteDirectAt(data []byte, offset int64, sync bool) error
	Read(buf []byte, offset int64) (int, error)
	ReadAll() ([]byte, error)
	Sync() error
	Flush() error
}

// SequentialFileFactory creates and lists files of one journal directory.
type SequentialFileFactory interface {
	Dir() string
	CreateSequentialFile(name string) SequentialFile
	ListFiles(extension string) ([]string, error)
	Alignment() int
	NewBuffer(size int) []byte
	Start() error
	Stop() error
}

// IOCallback is notified once an asynchronous write has reached the file,
// and the disk when the write asked for sync.
type IOCallback interface {
	Done()
	OnError(code int, message string)
}
