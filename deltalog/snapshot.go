package deltalog

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"regexp"
	"slices"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"delta-mirror/logger"
	"delta-mirror/metrics"
	"delta-mirror/schema"
	"delta-mirror/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const logDir = "_delta_log/"

var (
	commitPattern     = regexp.MustCompile(`^(\d{20})\.json$`)
	checkpointPattern = regexp.MustCompile(`^(\d{20})\.checkpoint(?:\.(\d{10})\.(\d{10}))?\.parquet$`)
)

// CommitPath is the log entry name of a version.
func CommitPath(version int64) string {
	return fmt.Sprintf("%s%020d.json", logDir, version)
}

// CheckpointPath is the single-part checkpoint name of a version.
func CheckpointPath(version int64) string {
	return fmt.Sprintf("%s%020d.checkpoint.parquet", logDir, version)
}

type checkpointInfo struct {
	version int64
	parts   map[int]string
	total   int
}

func (c *checkpointInfo) complete() bool {
	return len(c.parts) == c.total
}

// logSegment lists the files needed to rebuild one version.
type logSegment struct {
	version    int64
	checkpoint *checkpointInfo
	commits    []string
}

type snapshot struct {
	path     string
	store    storage.Storage
	version  int64
	metadata *Metadata
	protocol *Protocol
	schema   *schema.TableSchema
	files    []*Add

	batchSize int
}

func (e *LogEngine) Open(ctx context.Context, tablePath string, version *int64) (Snapshot, error) {
	store, err := e.resolver.Resolve(ctx, tablePath)
	if err != nil {
		return nil, fmt.Errorf("resolving storage: %w", err)
	}

	seg, err := listSegment(ctx, store, version)
	if err != nil {
		return nil, err
	}

	r := newReplay()
	if seg.checkpoint != nil {
		if err := e.readCheckpoint(ctx, store, seg.checkpoint, r); err != nil {
			return nil, fmt.Errorf("reading checkpoint %d: %w", seg.checkpoint.version, err)
		}
	}
	for _, commit := range seg.commits {
		if err := readCommit(ctx, store, commit, r); err != nil {
			return nil, fmt.Errorf("reading commit %s: %w", commit, err)
		}
	}

	if r.protocol == nil {
		return nil, fmt.Errorf("%w: no protocol action up to version %d", ErrCorruptLog, seg.version)
	}
	if err := r.protocol.checkReadable(); err != nil {
		return nil, err
	}
	if r.metadata == nil {
		return nil, fmt.Errorf("%w: no metaData action up to version %d", ErrCorruptLog, seg.version)
	}

	tableSchema, err := e.schemas.GetSchema(r.metadata.ID, r.metadata.SchemaString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptLog, err)
	}

	snap := &snapshot{
		path:     tablePath,
		store:    store,
		version:  seg.version,
		metadata: r.metadata,
		protocol: r.protocol,
		schema:   tableSchema,
		files:    r.liveFiles(),

		batchSize: e.batchSize,
	}
	metrics.SnapshotsOpened.Inc()
	logger.Debug("opened delta snapshot", "path", tablePath, "version", seg.version, "files", len(snap.files))
	return snap, nil
}

func listSegment(ctx context.Context, store storage.Storage, version *int64) (*logSegment, error) {
	names, err := store.List(ctx, logDir)
	if err != nil {
		return nil, fmt.Errorf("listing log: %w", err)
	}

	commits := make(map[int64]string)
	checkpoints := make(map[int64]*checkpointInfo)
	latest := int64(-1)
	for _, name := range names {
		base := path.Base(name)
		if m := commitPattern.FindStringSubmatch(base); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			commits[v] = name
			latest = max(latest, v)
			continue
		}
		if m := checkpointPattern.FindStringSubmatch(base); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			part, total := 1, 1
			if m[2] != "" {
				part, _ = strconv.Atoi(m[2])
				total, _ = strconv.Atoi(m[3])
			}
			cp, ok := checkpoints[v]
			if !ok {
				cp = &checkpointInfo{version: v, parts: make(map[int]string), total: total}
				checkpoints[v] = cp
			}
			cp.parts[part] = name
			latest = max(latest, v)
		}
	}
	if latest < 0 {
		return nil, ErrTableNotFound
	}

	target := latest
	if version != nil {
		if *version < 0 || *version > latest {
			return nil, fmt.Errorf("%w: %d (latest is %d)", ErrVersionNotFound, *version, latest)
		}
		target = *version
	}

	seg := &logSegment{version: target}
	var cpVersions []int64
	for v, cp := range checkpoints {
		if v <= target && cp.complete() {
			cpVersions = append(cpVersions, v)
		}
	}
	start := int64(0)
	if len(cpVersions) > 0 {
		sort.Slice(cpVersions, func(i, j int) bool { return cpVersions[i] > cpVersions[j] })
		seg.checkpoint = checkpoints[cpVersions[0]]
		start = seg.checkpoint.version + 1
	}

	for v := start; v <= target; v++ {
		name, ok := commits[v]
		if !ok {
			if seg.checkpoint == nil && v == 0 {
				return nil, fmt.Errorf("%w: %d (log history has been truncated)", ErrVersionNotFound, target)
			}
			return nil, fmt.Errorf("%w: missing commit %d", ErrCorruptLog, v)
		}
		seg.commits = append(seg.commits, name)
	}
	return seg, nil
}

func readCommit(ctx context.Context, store storage.Storage, name string, r *replay) error {
	rc, err := store.Read(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var action Action
		if err := json.Unmarshal(raw, &action); err != nil {
			return fmt.Errorf("%w: line %d: %w", ErrCorruptLog, line, err)
		}
		r.apply(&action)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning commit: %w", err)
	}
	return nil
}

// replay reconciles actions in log order. Files are reconciled by path and
// deletion vector but ordered by the first add of their path, so rewriting a
// file's deletion vector keeps its position.
type replay struct {
	metadata *Metadata
	protocol *Protocol
	paths    []string
	keys     map[string][]string // path -> keys in first add order
	live     map[string]*Add
}

func newReplay() *replay {
	return &replay{
		keys: make(map[string][]string),
		live: make(map[string]*Add),
	}
}

func (r *replay) apply(a *Action) {
	switch {
	case a.Add != nil:
		normalizePartitionValues(a.Add.PartitionValues)
		path := a.Add.Path
		key := fileKey(path, a.Add.DeletionVector)
		keys, seen := r.keys[path]
		if !seen {
			r.paths = append(r.paths, path)
		}
		if !slices.Contains(keys, key) {
			r.keys[path] = append(keys, key)
		}
		r.live[key] = a.Add
	case a.Remove != nil:
		delete(r.live, fileKey(a.Remove.Path, a.Remove.DeletionVector))
	case a.MetaData != nil:
		r.metadata = a.MetaData
	case a.Protocol != nil:
		r.protocol = a.Protocol
	}
}

// normalizePartitionValues turns empty partition values into NULL: the log
// cannot tell an empty string from a missing value for any type.
func normalizePartitionValues(values map[string]*string) {
	for k, v := range values {
		if v != nil && *v == "" {
			values[k] = nil
		}
	}
}

func (r *replay) liveFiles() []*Add {
	files := make([]*Add, 0, len(r.live))
	for _, path := range r.paths {
		for _, key := range r.keys[path] {
			if add, ok := r.live[key]; ok {
				files = append(files, add)
			}
		}
	}
	return files
}

func (s *snapshot) Path() string { return s.path }

func (s *snapshot) Version() int64 { return s.version }

func (s *snapshot) Schema() *schema.TableSchema { return s.schema }

func (s *snapshot) PartitionColumns() []string { return s.metadata.PartitionColumns }

func (s *snapshot) Close() error { return nil }
