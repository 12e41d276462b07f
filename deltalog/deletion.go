package deltalog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
	"github.com/tilinna/z85"

	"delta-mirror/logger"
	"delta-mirror/metrics"
)

// DeletionVectorMagic prefixes the serialized bitmap of every deletion vector.
const DeletionVectorMagic uint32 = 1681511377

const (
	storageTypeInline   = "i"
	storageTypeUUID     = "u"
	storageTypeAbsolute = "p"

	encodedUUIDLength = 20
)

// ResolveDeletionVector loads the bitmap dv points at and returns a
// selection over physical row offsets. The returned slice is shared through
// the cache and must not be modified.
func (e *LogEngine) ResolveDeletionVector(ctx context.Context, tableRoot string, dv *DeletionVectorDescriptor) ([]bool, error) {
	if dv == nil {
		return nil, nil
	}
	key := tableRoot + "\x00" + dv.UniqueID()
	item, err := e.dvCache.Fetch(key, dvCacheTTL, func() (interface{}, error) {
		bitmap, err := e.loadDeletionVector(ctx, tableRoot, dv)
		if err != nil {
			return nil, err
		}
		metrics.DeletionVectorsResolved.Inc()
		return Selection(bitmap)
	})
	if err != nil {
		return nil, err
	}
	return item.Value().([]bool), nil
}

// MaxSelectionRows bounds the physical row offsets a deletion vector may
// delete. A selection holds one entry per row up to the largest offset.
const MaxSelectionRows = 1 << 28

// Selection expands a bitmap of deleted offsets: position i is false when
// row i is deleted. The slice ends at the largest deleted offset.
func Selection(bitmap *roaring64.Bitmap) ([]bool, error) {
	if bitmap.IsEmpty() {
		return []bool{}, nil
	}
	last := bitmap.Maximum()
	if last >= MaxSelectionRows {
		return nil, fmt.Errorf("%w: deleted row offset %d exceeds %d", ErrDeletionVector, last, MaxSelectionRows-1)
	}
	sel := make([]bool, last+1)
	for i := range sel {
		sel[i] = true
	}
	it := bitmap.Iterator()
	for it.HasNext() {
		sel[it.Next()] = false
	}
	return sel, nil
}

func (e *LogEngine) loadDeletionVector(ctx context.Context, tableRoot string, dv *DeletionVectorDescriptor) (*roaring64.Bitmap, error) {
	if dv.StorageType == storageTypeInline {
		data, err := decodeInline(dv)
		if err != nil {
			return nil, err
		}
		return decodeBitmap(data)
	}

	location, err := dv.AbsolutePath(tableRoot)
	if err != nil {
		return nil, err
	}
	f, err := e.resolver.OpenFile(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("opening deletion vector %s: %w", location, err)
	}
	defer f.Close()

	offset := int64(1)
	if dv.Offset != nil {
		offset = int64(*dv.Offset)
	}
	logger.Debug("reading deletion vector", "location", location, "offset", offset, "size", dv.SizeInBytes)
	data, err := readFramed(f, offset, dv.SizeInBytes)
	if err != nil {
		return nil, fmt.Errorf("reading deletion vector %s: %w", location, err)
	}
	return decodeBitmap(data)
}

// AbsolutePath locates an on-disk deletion vector. Inline vectors have no
// location.
func (d *DeletionVectorDescriptor) AbsolutePath(tableRoot string) (string, error) {
	switch d.StorageType {
	case storageTypeAbsolute:
		return d.PathOrInlineDv, nil
	case storageTypeUUID:
		encoded := d.PathOrInlineDv
		if len(encoded) < encodedUUIDLength {
			return "", fmt.Errorf("%w: short uuid path %q", ErrDeletionVector, encoded)
		}
		prefix := encoded[:len(encoded)-encodedUUIDLength]
		raw := make([]byte, z85.DecodedLen(encodedUUIDLength))
		if _, err := z85.Decode(raw, []byte(encoded[len(prefix):])); err != nil {
			return "", fmt.Errorf("%w: decoding uuid: %w", ErrDeletionVector, err)
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrDeletionVector, err)
		}
		name := fmt.Sprintf("deletion_vector_%s.bin", id)
		if prefix != "" {
			name = prefix + "/" + name
		}
		if !strings.HasSuffix(tableRoot, "/") {
			tableRoot += "/"
		}
		return tableRoot + name, nil
	}
	return "", fmt.Errorf("%w: storage type %q", ErrDeletionVector, d.StorageType)
}

func decodeInline(dv *DeletionVectorDescriptor) ([]byte, error) {
	encoded := []byte(dv.PathOrInlineDv)
	if len(encoded)%5 != 0 {
		padded := make([]byte, len(encoded)+5-len(encoded)%5)
		copy(padded, encoded)
		for i := len(encoded); i < len(padded); i++ {
			padded[i] = '0'
		}
		encoded = padded
	}
	data := make([]byte, z85.DecodedLen(len(encoded)))
	if _, err := z85.Decode(data, encoded); err != nil {
		return nil, fmt.Errorf("%w: decoding inline vector: %w", ErrDeletionVector, err)
	}
	if int(dv.SizeInBytes) > len(data) {
		return nil, fmt.Errorf("%w: inline vector holds %d bytes, descriptor says %d", ErrDeletionVector, len(data), dv.SizeInBytes)
	}
	return data[:dv.SizeInBytes], nil
}

// readFramed reads a size-prefixed, checksummed bitmap at offset.
func readFramed(r io.ReaderAt, offset int64, sizeInBytes int32) ([]byte, error) {
	var header [4]byte
	if _, err := r.ReadAt(header[:], offset); err != nil {
		return nil, fmt.Errorf("%w: reading size: %w", ErrDeletionVector, err)
	}
	size := int32(binary.BigEndian.Uint32(header[:]))
	if size != sizeInBytes {
		return nil, fmt.Errorf("%w: stored size %d does not match descriptor size %d", ErrDeletionVector, size, sizeInBytes)
	}

	buf := make([]byte, int(size)+4)
	n, err := r.ReadAt(buf, offset+4)
	if n < len(buf) {
		return nil, fmt.Errorf("%w: reading bitmap: %w", ErrDeletionVector, err)
	}
	data, sum := buf[:size], binary.BigEndian.Uint32(buf[size:])
	if crc32.ChecksumIEEE(data) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrDeletionVector)
	}
	return data, nil
}

func decodeBitmap(data []byte) (*roaring64.Bitmap, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrDeletionVector, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[:4]); magic != DeletionVectorMagic {
		return nil, fmt.Errorf("%w: bad magic %d", ErrDeletionVector, magic)
	}
	bitmap := roaring64.New()
	if _, err := bitmap.ReadFrom(bytes.NewReader(data[4:])); err != nil {
		return nil, fmt.Errorf("%w: decoding bitmap: %w", ErrDeletionVector, err)
	}
	return bitmap, nil
}

// EncodeBitmap serializes deleted row offsets in the deletion vector format.
func EncodeBitmap(rows ...uint64) ([]byte, error) {
	bitmap := roaring64.BitmapOf(rows...)
	var buf bytes.Buffer
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], DeletionVectorMagic)
	buf.Write(magic[:])
	if _, err := bitmap.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encoding bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameBitmap wraps encoded bitmap data with its size and checksum, the way
// it is laid out inside a deletion vector file.
func FrameBitmap(data []byte) []byte {
	framed := make([]byte, 4+len(data)+4)
	binary.BigEndian.PutUint32(framed[:4], uint32(len(data)))
	copy(framed[4:], data)
	binary.BigEndian.PutUint32(framed[4+len(data):], crc32.ChecksumIEEE(data))
	return framed
}

// EncodeInline produces the pathOrInlineDv text of an inline vector.
func EncodeInline(data []byte) (string, error) {
	padded := data
	if len(data)%4 != 0 {
		padded = make([]byte, len(data)+4-len(data)%4)
		copy(padded, data)
	}
	out := make([]byte, z85.EncodedLen(len(padded)))
	if _, err := z85.Encode(out, padded); err != nil {
		return "", fmt.Errorf("encoding inline vector: %w", err)
	}
	return string(out), nil
}

// EncodeUUIDPath produces the pathOrInlineDv text of a uuid-named vector.
func EncodeUUIDPath(prefix string, id uuid.UUID) (string, error) {
	out := make([]byte, z85.EncodedLen(len(id)))
	if _, err := z85.Encode(out, id[:]); err != nil {
		return "", fmt.Errorf("encoding uuid: %w", err)
	}
	return prefix + string(out), nil
}
