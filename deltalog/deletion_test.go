package deltalog

import (
	"bytes"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineRoundTrip(t *testing.T) {
	data, err := EncodeBitmap(0, 7, 9)
	require.NoError(t, err)
	encoded, err := EncodeInline(data)
	require.NoError(t, err)

	dv := &DeletionVectorDescriptor{StorageType: "i", PathOrInlineDv: encoded, SizeInBytes: int32(len(data))}
	decoded, err := decodeInline(dv)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	bitmap, err := decodeBitmap(decoded)
	require.NoError(t, err)
	sel, err := Selection(bitmap)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, true, true, true, true, false, true, false}, sel)
}

func TestSelectionOfEmptyBitmap(t *testing.T) {
	sel, err := Selection(roaring64.New())
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestSelectionRejectsHugeOffsets(t *testing.T) {
	_, err := Selection(roaring64.BitmapOf(MaxSelectionRows))
	assert.ErrorIs(t, err, ErrDeletionVector)
	_, err = Selection(roaring64.BitmapOf(1 << 62))
	assert.ErrorIs(t, err, ErrDeletionVector)
}

func TestDecodeBitmapRejectsBadMagic(t *testing.T) {
	_, err := decodeBitmap([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrDeletionVector)

	_, err = decodeBitmap([]byte{1})
	assert.ErrorIs(t, err, ErrDeletionVector)
}

func TestReadFramed(t *testing.T) {
	data, err := EncodeBitmap(3)
	require.NoError(t, err)
	file := append([]byte{1}, FrameBitmap(data)...)

	got, err := readFramed(bytes.NewReader(file), 1, int32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = readFramed(bytes.NewReader(file), 1, int32(len(data))+1)
	assert.ErrorIs(t, err, ErrDeletionVector)

	corrupt := append([]byte(nil), file...)
	corrupt[6] ^= 0xff
	_, err = readFramed(bytes.NewReader(corrupt), 1, int32(len(data)))
	assert.ErrorIs(t, err, ErrDeletionVector)

	_, err = readFramed(bytes.NewReader(file[:len(file)-2]), 1, int32(len(data)))
	assert.ErrorIs(t, err, ErrDeletionVector)
}

func TestAbsolutePath(t *testing.T) {
	id := uuid.MustParse("d2c639aa-8816-431a-aaf6-d3fe2512ff61")
	encoded, err := EncodeUUIDPath("ab", id)
	require.NoError(t, err)

	dv := &DeletionVectorDescriptor{StorageType: "u", PathOrInlineDv: encoded}
	location, err := dv.AbsolutePath("s3://bucket/table")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/table/ab/deletion_vector_d2c639aa-8816-431a-aaf6-d3fe2512ff61.bin", location)

	plain, err := EncodeUUIDPath("", id)
	require.NoError(t, err)
	dv = &DeletionVectorDescriptor{StorageType: "u", PathOrInlineDv: plain}
	location, err = dv.AbsolutePath("/data/table/")
	require.NoError(t, err)
	assert.Equal(t, "/data/table/deletion_vector_d2c639aa-8816-431a-aaf6-d3fe2512ff61.bin", location)

	dv = &DeletionVectorDescriptor{StorageType: "p", PathOrInlineDv: "s3://other/dv.bin"}
	location, err = dv.AbsolutePath("/data/table")
	require.NoError(t, err)
	assert.Equal(t, "s3://other/dv.bin", location)

	_, err = (&DeletionVectorDescriptor{StorageType: "u", PathOrInlineDv: "short"}).AbsolutePath("/t")
	assert.ErrorIs(t, err, ErrDeletionVector)
	_, err = (&DeletionVectorDescriptor{StorageType: "x"}).AbsolutePath("/t")
	assert.ErrorIs(t, err, ErrDeletionVector)
}

func TestReplayReconcilesByPathAndVector(t *testing.T) {
	offset := int32(1)
	dv := &DeletionVectorDescriptor{StorageType: "u", PathOrInlineDv: "abc", Offset: &offset}
	r := newReplay()
	r.apply(&Action{Add: &Add{Path: "a"}})
	r.apply(&Action{Add: &Add{Path: "b"}})
	r.apply(&Action{Remove: &Remove{Path: "a"}})
	r.apply(&Action{Add: &Add{Path: "a", DeletionVector: dv}})
	// removing with a different vector leaves the file alone
	r.apply(&Action{Remove: &Remove{Path: "b", DeletionVector: dv}})

	// a keeps the slot of its first add
	live := r.liveFiles()
	require.Len(t, live, 2)
	assert.Equal(t, "a", live[0].Path)
	assert.Equal(t, dv, live[0].DeletionVector)
	assert.Equal(t, "b", live[1].Path)
}

func TestReplayTreatsEmptyPartitionValueAsNull(t *testing.T) {
	empty, year := "", "2023"
	r := newReplay()
	r.apply(&Action{Add: &Add{Path: "a", PartitionValues: map[string]*string{"year": &empty}}})
	r.apply(&Action{Add: &Add{Path: "b", PartitionValues: map[string]*string{"year": &year}}})

	live := r.liveFiles()
	require.Len(t, live, 2)
	v, ok := live[0].PartitionValues["year"]
	assert.True(t, ok)
	assert.Nil(t, v)
	require.NotNil(t, live[1].PartitionValues["year"])
	assert.Equal(t, "2023", *live[1].PartitionValues["year"])
}

func TestProtocolCheck(t *testing.T) {
	assert.NoError(t, (&Protocol{MinReaderVersion: 1}).checkReadable())
	assert.NoError(t, (&Protocol{MinReaderVersion: 3, ReaderFeatures: []string{"deletionVectors", "timestampNtz"}}).checkReadable())
	assert.ErrorIs(t, (&Protocol{MinReaderVersion: 4}).checkReadable(), ErrUnsupportedProtocol)
	assert.ErrorIs(t, (&Protocol{MinReaderVersion: 3, ReaderFeatures: []string{"v2Checkpoint"}}).checkReadable(), ErrUnsupportedProtocol)
}
