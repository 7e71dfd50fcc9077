package journal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cqkv/journal/executor"
	"github.com/cqkv/journal/fio"
	"github.com/cqkv/journal/keydir"
)

const (
	DefaultFileSize          = 10 * 1024 * 1024
	DefaultMinFiles          = 2
	DefaultPoolSize          = -1
	DefaultCompactMinFiles   = 10
	DefaultCompactPercentage = 0.3
	DefaultFilePrefix        = "journal"
	DefaultFileExtension     = "jrn"

	// MinFileSize leaves room for the header and a few records.
	MinFileSize = 1024
)

type options struct {
	dirPath string

	fileSize          int
	minFiles          int
	poolSize          int
	compactMinFiles   int
	compactPercentage float64
	filePrefix        string
	fileExtension     string
	userVersion       int32
	autoReclaim       bool

	keydir            keydir.Keydir
	factory           fio.SequentialFileFactory
	filesExecutor     *executor.Ordered
	compactorExecutor *executor.Ordered
	replication       ReplicationSender
	logger            *zap.Logger
}

type Option func(*options)

func defaultOptions(dirPath string) *options {
	return &options{
		dirPath:           dirPath,
		fileSize:          DefaultFileSize,
		minFiles:          DefaultMinFiles,
		poolSize:          DefaultPoolSize,
		compactMinFiles:   DefaultCompactMinFiles,
		compactPercentage: DefaultCompactPercentage,
		filePrefix:        DefaultFilePrefix,
		fileExtension:     DefaultFileExtension,
		autoReclaim:       true,
	}
}

func (o *options) validate() error {
	if o.fileSize < MinFileSize {
		return newError(KindInvalidState, "options", "file size %d is below %d", o.fileSize, MinFileSize)
	}
	if o.minFiles < 2 {
		return newError(KindInvalidState, "options", "min files %d is below 2", o.minFiles)
	}
	if o.compactPercentage < 0 || o.compactPercentage > 1 {
		return newError(KindInvalidState, "options", "compact percentage %v is not within [0, 1]", o.compactPercentage)
	}
	if o.filePrefix == "" || o.fileExtension == "" {
		return newError(KindInvalidState, "options", "file prefix and extension are required")
	}
	if o.fileExtension == "cmp" {
		return newError(KindInvalidState, "options", "extension %q is reserved for compaction", o.fileExtension)
	}
	return nil
}

func (o *options) String() string {
	return fmt.Sprintf("dir=%s fileSize=%d minFiles=%d poolSize=%d compactMinFiles=%d compactPercentage=%v",
		o.dirPath, o.fileSize, o.minFiles, o.poolSize, o.compactMinFiles, o.compactPercentage)
}

func WithFileSize(size int) Option {
	return func(o *options) {
		o.fileSize = size
	}
}

func WithMinFiles(n int) Option {
	return func(o *options) {
		o.minFiles = n
	}
}

// WithPoolSize caps the number of spare files kept for reuse, negative keeps all.
func WithPoolSize(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

// WithCompactMinFiles sets how many data files must exist before compaction
// is considered, 0 disables automatic compaction.
func WithCompactMinFiles(n int) Option {
	return func(o *options) {
		o.compactMinFiles = n
	}
}

// WithCompactPercentage triggers compaction once live bytes fall below this
// fraction of the bytes held by data files.
func WithCompactPercentage(p float64) Option {
	return func(o *options) {
		o.compactPercentage = p
	}
}

func WithFilePrefix(prefix string) Option {
	return func(o *options) {
		o.filePrefix = prefix
	}
}

func WithFileExtension(ext string) Option {
	return func(o *options) {
		o.fileExtension = ext
	}
}

func WithUserVersion(v int32) Option {
	return func(o *options) {
		o.userVersion = v
	}
}

func WithAutoReclaim(enabled bool) Option {
	return func(o *options) {
		o.autoReclaim = enabled
	}
}

func WithKeydir(kd keydir.Keydir) Option {
	return func(o *options) {
		o.keydir = kd
	}
}

func WithFileFactory(factory fio.SequentialFileFactory) Option {
	return func(o *options) {
		o.factory = factory
	}
}

// WithExecutor hands the journal the executors it runs file housekeeping and
// reclaim/compaction on. The journal does not shut them down.
func WithExecutor(files, compactor *executor.Ordered) Option {
	return func(o *options) {
		o.filesExecutor = files
		o.compactorExecutor = compactor
	}
}

func WithReplicationSender(sender ReplicationSender) Option {
	return func(o *options) {
		o.replication = sender
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
