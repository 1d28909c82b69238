package retrieve

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	blobHeaderSize = 4
	valueByteSize  = 4
)

// EncodeVector packs an embedding into the stored blob form:
// [4-byte little-endian dimension][N x 4-byte little-endian float32].
func EncodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}
	maxDim := (math.MaxInt - blobHeaderSize) / valueByteSize
	if len(vector) > maxDim {
		return nil, fmt.Errorf("encode vector: dimension too large: %d", len(vector))
	}

	blob := make([]byte, blobHeaderSize+len(vector)*valueByteSize)
	binary.LittleEndian.PutUint32(blob[:blobHeaderSize], uint32(len(vector)))

	offset := blobHeaderSize
	for i, value := range vector {
		if !isFinite(float64(value)) {
			return nil, fmt.Errorf("encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[offset:offset+valueByteSize], math.Float32bits(value))
		offset += valueByteSize
	}
	return blob, nil
}

// DecodeVector unpacks a blob created by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) < blobHeaderSize {
		return nil, fmt.Errorf("decode vector: blob too short: %d", len(blob))
	}

	dim := int(binary.LittleEndian.Uint32(blob[:blobHeaderSize]))
	maxDim := (math.MaxInt - blobHeaderSize) / valueByteSize
	if dim <= 0 || dim > maxDim {
		return nil, fmt.Errorf("decode vector: invalid dimension: %d", dim)
	}
	if want := blobHeaderSize + dim*valueByteSize; len(blob) != want {
		return nil, fmt.Errorf("decode vector: blob length %d does not match dimension %d", len(blob), dim)
	}

	vector := make([]float32, dim)
	offset := blobHeaderSize
	for i := range vector {
		value := math.Float32frombits(binary.LittleEndian.Uint32(blob[offset : offset+valueByteSize]))
		if !isFinite(float64(value)) {
			return nil, fmt.Errorf("decode vector: invalid value at index %d", i)
		}
		vector[i] = value
		offset += valueByteSize
	}
	return vector, nil
}

// CosineSimilarity returns the cosine of the angle between two
// vectors, clamped to [-1, 1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cosine similarity: empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		if !isFinite(ai) || !isFinite(bi) {
			return 0, fmt.Errorf("cosine similarity: invalid value at index %d", i)
		}
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cosine similarity: zero vector norm")
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
