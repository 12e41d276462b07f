package multifile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"delta-mirror/chunk"
	"delta-mirror/logger"
)

type Options struct {
	Workers   int
	ChunkSize int
}

// Reader scans every file of a FileList with a pool of workers. Workers
// claim file indexes from a shared counter, so each file is read by exactly
// one worker and the list is expanded on demand.
type Reader struct {
	files  FileList
	hooks  Hooks
	opener Opener
	opts   Options

	bound []Column
}

func NewReader(files FileList, hooks Hooks, opener Opener, opts Options) *Reader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunk.DefaultSize
	}
	return &Reader{files: files, hooks: hooks, opener: opener, opts: opts}
}

// Bind resolves the columns of the relation.
func (r *Reader) Bind(ctx context.Context) ([]Column, error) {
	if r.bound == nil {
		cols, err := r.hooks.Bind(ctx)
		if err != nil {
			return nil, err
		}
		r.bound = cols
	}
	return r.bound, nil
}

// Scan reads the projected columns of every file and hands chunks to emit.
// emit is never called concurrently. Chunks of one file arrive in order;
// chunks of different files interleave. The first error stops the scan.
func (r *Reader) Scan(ctx context.Context, projection []int, emit func(*chunk.Chunk) error) error {
	bound, err := r.Bind(ctx)
	if err != nil {
		return err
	}
	for _, idx := range projection {
		if idx < 0 || idx >= len(bound) {
			return fmt.Errorf("projected column %d out of range", idx)
		}
	}
	global := NewGlobalState(bound, projection)
	if err := r.hooks.InitializeGlobalState(global); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		next     atomic.Int64
		wg       sync.WaitGroup
		emitMu   sync.Mutex
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	pool, err := ants.NewPool(r.opts.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	worker := func() {
		defer wg.Done()
		defer func() {
			if v := recover(); v != nil {
				logger.Error("scan worker panic", "panic", v)
				fail(fmt.Errorf("scan worker panic: %v", v))
			}
		}()
		for ctx.Err() == nil {
			idx := int(next.Add(1) - 1)
			path, ok, err := r.files.GetFile(idx)
			if err != nil {
				fail(err)
				return
			}
			if !ok {
				return
			}
			err = r.scanFile(ctx, global, idx, path, func(c *chunk.Chunk) error {
				emitMu.Lock()
				defer emitMu.Unlock()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := emit(c); err != nil {
					fail(err)
					return err
				}
				return nil
			})
			if err != nil {
				fail(err)
				return
			}
		}
	}

	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		if err := pool.Submit(worker); err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting scan worker: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (r *Reader) scanFile(ctx context.Context, global *GlobalState, idx int, path string, emit func(*chunk.Chunk) error) error {
	fr, err := r.opener.Open(ctx, path)
	if err != nil {
		return err
	}
	defer fr.Close()

	data := NewReaderData(path, idx, fr.Columns(), len(global.Columns))
	if err := r.hooks.CreateColumnMapping(data, global); err != nil {
		return err
	}
	if err := r.hooks.FinalizeBind(data, global); err != nil {
		return err
	}
	data.EmptyColumns = true
	for _, id := range data.ColumnIDs {
		if id >= 0 {
			data.EmptyColumns = false
		}
	}
	logger.Debug("scanning file", "path", path, "index", idx)

	for ctx.Err() == nil {
		local, err := fr.Read(r.opts.ChunkSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		out, err := project(data, global, local)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := r.hooks.FinalizeChunk(data, global, out); err != nil {
			return err
		}
		out.Truncate(global.Projected)
		if out.Size() == 0 {
			continue
		}
		if err := emit(out); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// project lays a chunk of local columns out in the output layout.
func project(data *ReaderData, global *GlobalState, local *chunk.Chunk) (*chunk.Chunk, error) {
	size := local.Size()
	if len(global.Columns) == 0 {
		return chunk.NewRowCount(size), nil
	}
	out := &chunk.Chunk{Data: make([]*chunk.Vector, len(global.Columns))}
	for pos, col := range global.Columns {
		if v, ok := data.ConstantMap[pos]; ok {
			out.Data[pos] = chunk.NewConstantVector(v, size)
			out.Data[pos].Type = col.Type
			continue
		}
		id := data.ColumnIDs[pos]
		if id < 0 || id >= local.ColumnCount() {
			out.Data[pos] = chunk.NewConstantVector(chunk.NullValue(col.Type), size)
			continue
		}
		src := local.Data[id]
		target, cast := data.CastMap[pos]
		if !cast {
			out.Data[pos] = &chunk.Vector{Type: src.Type, Values: append([]chunk.Value(nil), src.Values...)}
			continue
		}
		vec := chunk.NewVector(target, size)
		for _, v := range src.Values {
			converted, err := v.CastAs(target)
			if err != nil {
				return nil, fmt.Errorf("casting column %s: %w", col.Name, err)
			}
			vec.Append(converted)
		}
		out.Data[pos] = vec
	}
	return out, nil
}
