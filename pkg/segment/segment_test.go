package segment_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/segment"
	"github.com/concourse-db/kernel/pkg/write"
)

func Test_New_Segment_Is_Mutable(t *testing.T) {
	t.Parallel()
	s := segment.New(segment.Options{})
	assert.True(t, s.Mutable())
}

func Test_Acquire_After_Transfer_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := segment.New(segment.Options{})
	require.NoError(t, s.Acquire(write.Write{Key: "a", Value: atom.IntValue(1), Record: 1, Action: write.ADD}))
	require.NoError(t, s.Transfer(fs.NewReal(), nil, filepath.Join(dir, "a.seg")))

	assert.False(t, s.Mutable())
	err := s.Acquire(write.Write{Key: "b", Value: atom.IntValue(2), Record: 2, Action: write.ADD})
	assert.ErrorIs(t, err, segment.ErrIllegalTransition)
}

func Test_Writes_Returns_Source_Writes_Before_Transfer(t *testing.T) {
	t.Parallel()
	s := segment.New(segment.Options{})
	w := write.Write{Key: "a", Value: atom.IntValue(1), Record: 1, Action: write.ADD, Version: 1}
	require.NoError(t, s.Acquire(w))

	ws, err := s.Writes()
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.True(t, w.Equal(ws[0]))
}

func Test_Writes_Reconstructs_From_Primary_Chunk_After_Reload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.seg")

	s := segment.New(segment.Options{})
	w1 := write.Write{Key: "name", Value: atom.StringValue("alice"), Record: 1, Action: write.ADD, Version: 1}
	w2 := write.Write{Key: "name", Value: atom.StringValue("bob"), Record: 2, Action: write.ADD, Version: 2}
	require.NoError(t, s.Acquire(w1))
	require.NoError(t, s.Acquire(w2))
	require.NoError(t, s.Transfer(fs.NewReal(), nil, path))

	reloaded, err := segment.Load(fs.NewReal(), path, segment.Options{})
	require.NoError(t, err)

	ws, err := reloaded.Writes()
	require.NoError(t, err)
	require.Len(t, ws, 2, "a reloaded segment's in-memory sourceWrites is empty; Writes must reconstruct from the primary chunk")

	var names []atom.PrimaryKey
	for _, w := range ws {
		names = append(names, w.Record)
	}
	assert.ElementsMatch(t, []atom.PrimaryKey{1, 2}, names)
}

func Test_Load_Then_Seek_Finds_Acquired_Revisions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.seg")

	s := segment.New(segment.Options{})
	require.NoError(t, s.Acquire(write.Write{Key: "status", Value: atom.StringValue("active"), Record: 7, Action: write.ADD}))
	require.NoError(t, s.Transfer(fs.NewReal(), nil, path))

	reloaded, err := segment.Load(fs.NewReal(), path, segment.Options{})
	require.NoError(t, err)

	key := atom.Text("status")
	found, err := reloaded.Primary().Seek(7, &key)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, atom.StringValue("active"), found[0].Value)

	value := atom.StringValue("active")
	records, err := reloaded.Index().Seek("status", &value)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, atom.PrimaryKey(7), records[0].Value)
}

func Test_Transfer_Preserves_Writes_Order_And_Verify_Answers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bulk.seg")

	s := segment.New(segment.Options{ExpectedWrites: 64})
	var inserted []write.Write
	for i := 0; i < 50; i++ {
		w := write.Write{
			Key:    "seq",
			Value:  atom.IntValue(int64(i)),
			Record: atom.PrimaryKey(i),
			Action: write.ADD,
		}
		require.NoError(t, s.Acquire(w))
		inserted = append(inserted, w)
	}

	before, err := s.Writes()
	require.NoError(t, err)
	require.Len(t, before, 50)
	for i, w := range before {
		assert.True(t, inserted[i].Equal(w), "writes() must preserve original insertion order")
	}

	require.NoError(t, s.Transfer(fs.NewReal(), nil, path))

	key := atom.Text("seq")
	for i := 0; i < 50; i++ {
		found, err := s.Primary().Seek(atom.PrimaryKey(i), &key)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, atom.IntValue(int64(i)), found[0].Value)
	}
}

func Test_Transfer_Twice_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := segment.New(segment.Options{})
	require.NoError(t, s.Acquire(write.Write{Key: "a", Value: atom.IntValue(1), Record: 1, Action: write.ADD}))
	require.NoError(t, s.Transfer(fs.NewReal(), nil, filepath.Join(dir, "a.seg")))

	err := s.Transfer(fs.NewReal(), nil, filepath.Join(dir, "b.seg"))
	assert.ErrorIs(t, err, segment.ErrIllegalTransition)
}
