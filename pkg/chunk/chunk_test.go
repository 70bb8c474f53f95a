package chunk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/bloom"
	"github.com/concourse-db/kernel/pkg/chunk"
	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/manifest"
	"github.com/concourse-db/kernel/pkg/write"
)

func revisionFor(record atom.PrimaryKey, key atom.Text, value atom.Value, version uint64) chunk.PrimaryRevision {
	return chunk.PrimaryRevision{
		Locator: record,
		Key:     key,
		Value:   value,
		Action:  write.ADD,
		Version: version,
	}
}

func Test_Building_Chunk_Seek_Scans_In_Memory_Revisions(t *testing.T) {
	t.Parallel()
	c := chunk.NewPrimary(4)
	require.NoError(t, c.Insert(revisionFor(1, "name", atom.StringValue("alice"), 1)))
	require.NoError(t, c.Insert(revisionFor(2, "name", atom.StringValue("bob"), 2)))

	key := atom.Text("name")
	found, err := c.Seek(1, &key)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, atom.StringValue("alice"), found[0].Value)
}

func Test_Insert_After_Serialize_Errors(t *testing.T) {
	t.Parallel()
	c := chunk.NewPrimary(4)
	_, err := c.Serialize()
	require.NoError(t, err)

	err = c.Insert(revisionFor(1, "name", atom.StringValue("x"), 1))
	assert.ErrorIs(t, err, chunk.ErrIllegalTransition)
}

func Test_Serialize_Then_Load_Seek_Returns_Same_Revisions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk.bin")

	c := chunk.NewPrimary(4)
	require.NoError(t, c.Insert(revisionFor(1, "name", atom.StringValue("alice"), 1)))
	require.NoError(t, c.Insert(revisionFor(1, "age", atom.IntValue(30), 2)))
	require.NoError(t, c.Insert(revisionFor(2, "name", atom.StringValue("bob"), 3)))

	folio, err := c.Serialize()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, folio.Bytes, 0o644))

	fsys := fs.NewReal()
	mf := loadManifestFromBytes(t, fsys, folio.Manifest)

	bl, err := bloom.Load(folio.Bloom)
	require.NoError(t, err)

	loaded := chunk.LoadPrimary(fsys, path, 0, int64(len(folio.Bytes)), bl, mf)

	key := atom.Text("name")
	found, err := loaded.Seek(1, &key)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, atom.StringValue("alice"), found[0].Value)

	all, err := loaded.Dump()
	require.NoError(t, err)
	assert.Len(t, all, 3, "Dump reconstructs every revision from the on-disk byte range")
}

func loadManifestFromBytes(t *testing.T, fsys fs.FS, b []byte) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.bin")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return manifest.Load(fsys, path, 0, int64(len(b)))
}

func Test_Index_Chunk_Manifest_Counts_One_Locator_Plus_Unique_Composite_Entries(t *testing.T) {
	t.Parallel()
	c := chunk.NewIndex(8)
	r1 := atom.PrimaryKey(1)

	inserts := []atom.Value{
		atom.IntValue(18),
		atom.FloatValue(18.0),
		atom.FloatValue(625.0),
		atom.StringValue("foo"),
		atom.TagValue("foo"),
		atom.FloatValue(626.0),
	}
	for _, v := range inserts {
		require.NoError(t, c.Insert(chunk.IndexRevision{
			Locator: "payRangeMax",
			Key:     v,
			Value:   r1,
			Action:  write.ADD,
		}))
	}

	folio, err := c.Serialize()
	require.NoError(t, err)

	mf := loadManifestFromBytes(t, fs.NewReal(), folio.Manifest)
	n, err := mf.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n, "one locator entry plus one per unique (locator, normalized-key) composite: {18/18.0}, {625.0}, {foo/Tag(foo)}, {626.0}")
}

func Test_Seek_With_No_Matching_Bloom_Hit_Returns_Nil(t *testing.T) {
	t.Parallel()
	c := chunk.NewPrimary(4)
	require.NoError(t, c.Insert(revisionFor(1, "name", atom.StringValue("alice"), 1)))
	_, err := c.Serialize()
	require.NoError(t, err)

	key := atom.Text("name")
	found, err := c.Seek(999, &key)
	require.NoError(t, err)
	assert.Nil(t, found)
}
