// Package scan turns a Delta table path and an optional version into a lazily
// expanded, deletion-aware and partition-annotated list of data files, and
// adapts that list to the multifile reader.
package scan

import (
	"runtime"

	"delta-mirror/multifile"
)

const (
	// FileRowNumberColumn is the offset of a row within its data file.
	FileRowNumberColumn = multifile.FileRowNumberColumn
	// FileNumberColumn is the index of a row's data file in the file list.
	FileNumberColumn = "delta_file_number"
)

// Options configure one scan. They are passed explicitly instead of read
// from process state so that scans can be set up independently.
type Options struct {
	// PinSnapshot makes a Registry reuse the first snapshot it opens for a
	// path instead of resolving the latest version on every scan.
	PinSnapshot bool
	// FileNumber adds the delta_file_number column to the bound schema.
	FileNumber bool
	// FileRowNumber adds the file_row_number column to the bound schema.
	FileRowNumber bool
	// ExplainFilesFiltered counts files before and after pruning when
	// Profiling is set. It costs a second full visitation pass.
	ExplainFilesFiltered bool
	Profiling            bool

	Workers   int
	ChunkSize int
}

func DefaultOptions() Options {
	return Options{
		ExplainFilesFiltered: true,
		Workers:              runtime.NumCPU(),
	}
}
