package deltalog

import "errors"

var (
	ErrTableNotFound       = errors.New("delta table not found")
	ErrVersionNotFound     = errors.New("table version not found")
	ErrCorruptLog          = errors.New("corrupt transaction log")
	ErrUnsupportedProtocol = errors.New("unsupported table protocol")
	ErrDeletionVector      = errors.New("invalid deletion vector")
)
