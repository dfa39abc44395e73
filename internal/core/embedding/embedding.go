package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dimensions is the fixed length of a face embedding vector as produced by
// the face service (dlib-style 128-dimensional descriptor).
const Dimensions = 128

// Vector is a single face embedding.
type Vector []float64

// Encode serializes a vector to its storage format: little-endian IEEE-754
// float64 values, Dimensions entries. The encoding round-trips exactly.
func Encode(vec Vector) ([]byte, error) {
	if len(vec) != Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), Dimensions)
	}
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf, nil
}

// Decode deserializes a vector from its storage format.
func Decode(blob []byte) (Vector, error) {
	if len(blob) != Dimensions*8 {
		return nil, fmt.Errorf("embedding blob is %d bytes, expected %d", len(blob), Dimensions*8)
	}
	vec := make(Vector, Dimensions)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vec, nil
}

// Distance computes the Euclidean distance between two embeddings.
// Lower means more similar faces.
func Distance(a, b Vector) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
