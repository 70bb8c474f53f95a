package chunk

import (
	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/bloom"
	"github.com/concourse-db/kernel/pkg/fs"
	"github.com/concourse-db/kernel/pkg/manifest"
)

// Primary instantiates the record -> field -> value chunk (§3):
// L=PrimaryKey, K=Text, V=Value.
type Primary = Chunk[atom.PrimaryKey, atom.Text, atom.Value]

// PrimaryRevision is one entry of a Primary chunk.
type PrimaryRevision = Revision[atom.PrimaryKey, atom.Text, atom.Value]

// NewPrimary returns a building Primary chunk.
func NewPrimary(expectedRevisions int) *Primary {
	return New[atom.PrimaryKey, atom.Text, atom.Value](expectedRevisions)
}

// LoadPrimary returns a sealed, lazily-backed Primary chunk.
func LoadPrimary(fsys fs.FS, path string, chunkOffset, chunkLength int64, bl *bloom.Filter, mf *manifest.Manifest) *Primary {
	return Load[atom.PrimaryKey, atom.Text, atom.Value](fsys, path, chunkOffset, chunkLength, bl, mf,
		atom.DecodePrimaryKey, atom.DecodeText, atom.DecodeValue)
}

// Index instantiates the field -> value -> record inverted-index chunk
// (§3): L=Text, K=Value, V=PrimaryKey.
type Index = Chunk[atom.Text, atom.Value, atom.PrimaryKey]

// IndexRevision is one entry of an Index chunk.
type IndexRevision = Revision[atom.Text, atom.Value, atom.PrimaryKey]

// NewIndex returns a building Index chunk.
func NewIndex(expectedRevisions int) *Index {
	return New[atom.Text, atom.Value, atom.PrimaryKey](expectedRevisions)
}

// LoadIndex returns a sealed, lazily-backed Index chunk.
func LoadIndex(fsys fs.FS, path string, chunkOffset, chunkLength int64, bl *bloom.Filter, mf *manifest.Manifest) *Index {
	return Load[atom.Text, atom.Value, atom.PrimaryKey](fsys, path, chunkOffset, chunkLength, bl, mf,
		atom.DecodeText, atom.DecodeValue, atom.DecodePrimaryKey)
}

// Search instantiates the term -> record position inverted-index chunk
// (§3): L=Text, K=Text (term), V=Position.
type Search = Chunk[atom.Text, atom.Text, atom.Position]

// SearchRevision is one entry of a Search chunk.
type SearchRevision = Revision[atom.Text, atom.Text, atom.Position]

// NewSearch returns a building Search chunk.
func NewSearch(expectedRevisions int) *Search {
	return New[atom.Text, atom.Text, atom.Position](expectedRevisions)
}

// LoadSearch returns a sealed, lazily-backed Search chunk.
func LoadSearch(fsys fs.FS, path string, chunkOffset, chunkLength int64, bl *bloom.Filter, mf *manifest.Manifest) *Search {
	return Load[atom.Text, atom.Text, atom.Position](fsys, path, chunkOffset, chunkLength, bl, mf,
		atom.DecodeText, atom.DecodeText, atom.DecodePosition)
}
