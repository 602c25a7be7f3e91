package storage

import (
	"context"
	"fmt"

	"ferrisshare/protocol"
)

// Store is the blob store consumed by the command service. WriteBlock
// persists data at the absolute offset block.Index * protocol.NominalBlockSize
// in a staging artifact; Finalize atomically promotes the staging artifact
// to its final name. Implementations must reject names containing
// absolute-path or parent-directory components.
type Store interface {
	Open(ctx context.Context, name string) error
	WriteBlock(ctx context.Context, name string, block protocol.YeetBlock, data []byte) error
	Finalize(ctx context.Context, name string) error
}

// ErrorCode classifies storage failures.
type ErrorCode int

const (
	ErrFileNotFound ErrorCode = iota
	ErrPermissionDenied
	ErrAlreadyExists
	ErrAbsolutePathNotAllowed
	ErrParentDirSegmentNotAllowed
	ErrInvalidFilename
	ErrUnknown
)

// Error is a classified storage failure. Detail carries the underlying
// cause for ErrUnknown and is empty for the path-validation codes.
type Error struct {
	Code   ErrorCode
	Detail string
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrFileNotFound:
		return "File not found"
	case ErrPermissionDenied:
		return "Permission denied"
	case ErrAlreadyExists:
		return "File already exists"
	case ErrAbsolutePathNotAllowed:
		return "Absolute paths are not allowed in filenames"
	case ErrParentDirSegmentNotAllowed:
		return "Parent directory segments are not allowed in filenames"
	case ErrInvalidFilename:
		return "Invalid filename"
	}
	return fmt.Sprintf("Unknown storage error: %s", e.Detail)
}

func unknownErr(err error) *Error {
	return &Error{Code: ErrUnknown, Detail: err.Error()}
}
