package cache

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Cached vector layout: version byte, dimension uint16, then dimension
// float32 values little-endian. Versioned so the on-wire format can grow
// without silently misreading stale cache entries.
const vectorCodecVersion byte = 1

// EncodeVector serializes a vector for cache storage.
func EncodeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("cannot encode empty vector")
	}
	if len(vec) > math.MaxUint16 {
		return nil, fmt.Errorf("vector dimension %d exceeds codec limit", len(vec))
	}

	buf := make([]byte, 3+len(vec)*4)
	buf[0] = vectorCodecVersion
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[3+i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// DecodeVector deserializes a cache entry back into a vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("cached vector too short: %d bytes", len(data))
	}
	if data[0] != vectorCodecVersion {
		return nil, fmt.Errorf("unsupported cached vector version %d", data[0])
	}

	dim := int(binary.LittleEndian.Uint16(data[1:3]))
	if len(data) != 3+dim*4 {
		return nil, fmt.Errorf("cached vector size %d does not match dimension %d", len(data), dim)
	}

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[3+i*4:]))
	}
	return vec, nil
}
