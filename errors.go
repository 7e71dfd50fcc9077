package journal

import (
	"errors"
	"fmt"

	"github.com/cqkv/journal/filerepo"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotLoaded
	KindUnknownRecord
	KindUnknownTransaction
	KindRecordTooLarge
	KindCorrupt
	KindIOFailure
	KindVersionMismatch
	KindCompactInProgress
	KindDirInUse
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindNotLoaded:
		return "journal not loaded"
	case KindUnknownRecord:
		return "cannot find add info"
	case KindUnknownTransaction:
		return "cannot find tx"
	case KindRecordTooLarge:
		return "record too large"
	case KindCorrupt:
		return "journal corrupted"
	case KindIOFailure:
		return "io failure"
	case KindVersionMismatch:
		return "version mismatch"
	case KindCompactInProgress:
		return "compaction in progress"
	case KindDirInUse:
		return "directory is in use"
	case KindInvalidState:
		return "invalid state"
	}
	return "unknown error"
}

// Error is returned by every journal operation. errors.Is matches on Kind, so
// any Error can be compared against the sentinels below.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := "journal err: " + e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotLoaded          = addPrefix(KindNotLoaded)
	ErrUnknownRecord      = addPrefix(KindUnknownRecord)
	ErrUnknownTransaction = addPrefix(KindUnknownTransaction)
	ErrRecordTooLarge     = addPrefix(KindRecordTooLarge)
	ErrCorrupt            = addPrefix(KindCorrupt)
	ErrIOFailure          = addPrefix(KindIOFailure)
	ErrVersionMismatch    = addPrefix(KindVersionMismatch)
	ErrCompactInProgress  = addPrefix(KindCompactInProgress)
	ErrDirInUse           = addPrefix(KindDirInUse)
	ErrInvalidState       = addPrefix(KindInvalidState)
)

func addPrefix(kind Kind) error {
	return &Error{Kind: kind}
}

func newError(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// wrapIO turns a failure of the file layer into a journal Error.
func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	var je *Error
	if errors.As(err, &je) {
		return err
	}
	if errors.Is(err, filerepo.ErrVersionMismatch) {
		return &Error{Kind: KindVersionMismatch, Op: op, Err: err}
	}
	return &Error{Kind: KindIOFailure, Op: op, Err: err}
}
