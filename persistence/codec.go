package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/stylora/retrieval/index"
)

// Binary snapshot layout, little-endian throughout:
//
//	magic   uint32
//	version uint16
//	metaLen uint32, metadata JSON
//	count   uint32, dimension uint32
//	ids     count x (idLen uint16, id bytes)
//	vectors count x dimension x float32
//
// A snapshot decodes completely or not at all; a truncated or corrupt blob
// fails instead of yielding a partial index.
const (
	snapshotMagic   uint32 = 0x53544958 // "STIX"
	snapshotVersion uint16 = 1

	maxIDLength = math.MaxUint16
)

// EncodeSnapshot serializes a snapshot into the versioned binary format.
func EncodeSnapshot(snap *index.Snapshot) ([]byte, error) {
	meta := snap.Metadata()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot metadata: %w", err)
	}

	count := snap.Count()
	dim := snap.Dimension()

	var buf bytes.Buffer
	buf.Grow(16 + len(metaJSON) + count*(8+dim*4))

	writeUint32(&buf, snapshotMagic)
	writeUint16(&buf, snapshotVersion)
	writeUint32(&buf, uint32(len(metaJSON)))
	buf.Write(metaJSON)
	writeUint32(&buf, uint32(count))
	writeUint32(&buf, uint32(dim))

	for i := 0; i < count; i++ {
		id, _ := snap.ItemAt(i)
		if len(id) > maxIDLength {
			return nil, fmt.Errorf("item id at position %d exceeds %d bytes", i, maxIDLength)
		}
		writeUint16(&buf, uint16(len(id)))
		buf.WriteString(id)
	}

	scratch := make([]byte, 4)
	for i := 0; i < count; i++ {
		id, _ := snap.ItemAt(i)
		vec, err := snap.VectorOf(id)
		if err != nil {
			return nil, err
		}
		for _, f := range vec {
			binary.LittleEndian.PutUint32(scratch, math.Float32bits(f))
			buf.Write(scratch)
		}
	}

	return buf.Bytes(), nil
}

// DecodeSnapshot reassembles a snapshot from its binary form.
func DecodeSnapshot(data []byte) (*index.Snapshot, error) {
	r := &sliceReader{data: data}

	magic, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("not a snapshot blob: magic %#x", magic)
	}

	version, err := r.uint16()
	if err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}

	metaLen, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("reading metadata length: %w", err)
	}
	metaJSON, err := r.bytes(int(metaLen))
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var meta index.Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("decoding snapshot metadata: %w", err)
	}

	count, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("reading vector count: %w", err)
	}
	dim, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("reading dimension: %w", err)
	}

	ids := make([]string, count)
	for i := range ids {
		idLen, err := r.uint16()
		if err != nil {
			return nil, fmt.Errorf("reading id %d: %w", i, err)
		}
		idBytes, err := r.bytes(int(idLen))
		if err != nil {
			return nil, fmt.Errorf("reading id %d: %w", i, err)
		}
		ids[i] = string(idBytes)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		raw, err := r.bytes(int(dim) * 4)
		if err != nil {
			return nil, fmt.Errorf("reading vector %d: %w", i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		vectors[i] = vec
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("snapshot blob has %d trailing bytes", r.remaining())
	}

	snap, err := index.Restore(vectors, ids, meta)
	if err != nil {
		return nil, fmt.Errorf("restoring snapshot: %w", err)
	}
	return snap, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// sliceReader is a bounds-checked cursor over the encoded blob.
type sliceReader struct {
	data []byte
	off  int
}

func (r *sliceReader) remaining() int { return len(r.data) - r.off }

func (r *sliceReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("truncated blob: need %d bytes, have %d", n, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *sliceReader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *sliceReader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
