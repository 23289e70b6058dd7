package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto reuses buf across rows of a scan.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns dot(a,b)/(|a||b|) given the precomputed norm of a. Vectors
// of different dimension score 0.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	if bSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bSq))
}

type candidate struct {
	seq   int64
	score float64
	rec   Scored
}

// worstFirst is a min-heap: the root is the lowest score, and among equal
// scores the most recently inserted, so earlier records win ties.
type worstFirst []candidate

func (h worstFirst) Len() int { return len(h) }
func (h worstFirst) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq > h[j].seq
}
func (h worstFirst) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
