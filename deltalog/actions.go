package deltalog

import (
	"fmt"
	"strconv"
)

// Action is one line of a commit file. Exactly one field is set.
type Action struct {
	Add        *Add           `json:"add,omitempty"`
	Remove     *Remove        `json:"remove,omitempty"`
	MetaData   *Metadata      `json:"metaData,omitempty"`
	Protocol   *Protocol      `json:"protocol,omitempty"`
	CommitInfo map[string]any `json:"commitInfo,omitempty"`
}

type Add struct {
	Path             string                    `json:"path"`
	PartitionValues  map[string]*string        `json:"partitionValues"`
	Size             int64                     `json:"size"`
	ModificationTime int64                     `json:"modificationTime"`
	DataChange       bool                      `json:"dataChange"`
	Stats            string                    `json:"stats,omitempty"`
	DeletionVector   *DeletionVectorDescriptor `json:"deletionVector,omitempty"`
}

type Remove struct {
	Path              string                    `json:"path"`
	DeletionTimestamp int64                     `json:"deletionTimestamp,omitempty"`
	DataChange        bool                      `json:"dataChange"`
	DeletionVector    *DeletionVectorDescriptor `json:"deletionVector,omitempty"`
}

type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
}

type Protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// DeletionVectorDescriptor locates the bitmap of deleted row offsets of one
// data file.
type DeletionVectorDescriptor struct {
	StorageType    string `json:"storageType"` // "u", "i" or "p"
	PathOrInlineDv string `json:"pathOrInlineDv"`
	Offset         *int32 `json:"offset,omitempty"`
	SizeInBytes    int32  `json:"sizeInBytes"`
	Cardinality    int64  `json:"cardinality"`
}

// UniqueID identifies the descriptor within a table.
func (d *DeletionVectorDescriptor) UniqueID() string {
	if d == nil {
		return ""
	}
	id := d.StorageType + d.PathOrInlineDv
	if d.Offset != nil {
		id += "@" + strconv.Itoa(int(*d.Offset))
	}
	return id
}

func (d *DeletionVectorDescriptor) String() string {
	return fmt.Sprintf("dv(%s, %d rows)", d.UniqueID(), d.Cardinality)
}

// fileKey reconciles add and remove actions: a file is identified by its
// path together with its deletion vector.
func fileKey(path string, dv *DeletionVectorDescriptor) string {
	return path + "\x00" + dv.UniqueID()
}

var supportedReaderFeatures = map[string]bool{
	"deletionVectors":     true,
	"timestampNtz":        true,
	"vacuumProtocolCheck": true,
}

const maxReaderVersion = 3

// checkReadable rejects protocols this engine cannot read correctly.
func (p *Protocol) checkReadable() error {
	if p.MinReaderVersion > maxReaderVersion {
		return fmt.Errorf("%w: reader version %d", ErrUnsupportedProtocol, p.MinReaderVersion)
	}
	if p.MinReaderVersion == maxReaderVersion {
		for _, f := range p.ReaderFeatures {
			if !supportedReaderFeatures[f] {
				return fmt.Errorf("%w: reader feature %q", ErrUnsupportedProtocol, f)
			}
		}
	}
	return nil
}
