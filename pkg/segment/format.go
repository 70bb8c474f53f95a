package segment

import (
	"encoding/binary"
	"hash/crc32"
)

// On-disk segment layout, exactly as specified in §6 (network byte order):
//
//	[magic:4]["CSEG"][version:u16][schema:u32]
//	[primary_chunk_len:u64][index_chunk_len:u64][search_chunk_len:u64]
//	[primary_manifest_off:u64][index_manifest_off:u64][search_manifest_off:u64]
//	[primary_bloom_off:u64][index_bloom_off:u64][search_bloom_off:u64]
//	[primary_chunk_bytes…][index_chunk_bytes…][search_chunk_bytes…]
//	[primary_manifest_bytes…][index_manifest_bytes…][search_manifest_bytes…]
//	[primary_bloom_bytes…][index_bloom_bytes…][search_bloom_bytes…]
//	[crc32c:u32]
const (
	segMagic = "CSEG"
	// fileFormatVersion is the container layout version (the header shape
	// itself), distinct from schemaVersion which versions the logical
	// record schema carried inside the chunks.
	fileFormatVersion = 1

	// schemaVersion is fixed per §4.12/§9 ("implementers should fix a
	// numeric schema version and refuse to load other versions").
	schemaVersion = 1

	headerSize = 4 + 2 + 4 + 3*8 + 3*8 + 3*8 // magic+version+schema+lens+manifestOffs+bloomOffs
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

type fileHeader struct {
	Version uint16
	Schema  uint32

	PrimaryChunkLen uint64
	IndexChunkLen   uint64
	SearchChunkLen  uint64

	PrimaryManifestOff uint64
	IndexManifestOff   uint64
	SearchManifestOff  uint64

	PrimaryBloomOff uint64
	IndexBloomOff   uint64
	SearchBloomOff  uint64
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], segMagic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint32(buf[6:10], h.Schema)

	binary.BigEndian.PutUint64(buf[10:18], h.PrimaryChunkLen)
	binary.BigEndian.PutUint64(buf[18:26], h.IndexChunkLen)
	binary.BigEndian.PutUint64(buf[26:34], h.SearchChunkLen)

	binary.BigEndian.PutUint64(buf[34:42], h.PrimaryManifestOff)
	binary.BigEndian.PutUint64(buf[42:50], h.IndexManifestOff)
	binary.BigEndian.PutUint64(buf[50:58], h.SearchManifestOff)

	binary.BigEndian.PutUint64(buf[58:66], h.PrimaryBloomOff)
	binary.BigEndian.PutUint64(buf[66:74], h.IndexBloomOff)
	binary.BigEndian.PutUint64(buf[74:82], h.SearchBloomOff)

	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, ErrCorruptSegment
	}
	if string(buf[0:4]) != segMagic {
		return fileHeader{}, ErrCorruptSegment
	}

	var h fileHeader
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	if h.Version != fileFormatVersion {
		return fileHeader{}, ErrCorruptSegment
	}
	h.Schema = binary.BigEndian.Uint32(buf[6:10])
	if h.Schema != schemaVersion {
		return fileHeader{}, ErrCorruptSegment
	}

	h.PrimaryChunkLen = binary.BigEndian.Uint64(buf[10:18])
	h.IndexChunkLen = binary.BigEndian.Uint64(buf[18:26])
	h.SearchChunkLen = binary.BigEndian.Uint64(buf[26:34])

	h.PrimaryManifestOff = binary.BigEndian.Uint64(buf[34:42])
	h.IndexManifestOff = binary.BigEndian.Uint64(buf[42:50])
	h.SearchManifestOff = binary.BigEndian.Uint64(buf[50:58])

	h.PrimaryBloomOff = binary.BigEndian.Uint64(buf[58:66])
	h.IndexBloomOff = binary.BigEndian.Uint64(buf[66:74])
	h.SearchBloomOff = binary.BigEndian.Uint64(buf[74:82])

	return h, nil
}
