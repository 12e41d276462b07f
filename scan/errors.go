package scan

import (
	"errors"

	"delta-mirror/storage"
)

var (
	ErrSnapshotOpen             = errors.New("failed to open delta snapshot")
	ErrDeletionVectorResolution = errors.New("failed to resolve deletion vector")
	ErrPartitionCast            = errors.New("failed to cast partition value")
	ErrUnsupportedPathScheme    = storage.ErrUnsupportedPathScheme
	ErrRequiredColumnMissing    = errors.New("required column missing from data file")
	// ErrInternal reports inconsistent bookkeeping, such as file counts that
	// disagree between analyses of the same scan.
	ErrInternal = errors.New("internal scan error")
)
