package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEngine is a deterministic, dependency-free embedding backend. Token
// hashes are folded into a fixed-width vector which is then L2-normalized.
// Similar texts share tokens and therefore land near each other, which is
// enough for offline runs and tests; it is not a semantic model.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash engine. dims defaults to 768.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 768
	}
	return &HashEngine{dims: dims}
}

func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		// Alternate sign from a high bit so common tokens do not all pile
		// onto the positive axis.
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	normalize(vec)
	return vec, nil
}

func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *HashEngine) Dimensions() int { return e.dims }

func (e *HashEngine) Name() string { return "hash" }

func normalize(vec []float32) {
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return
	}
	inv := 1 / math.Sqrt(mag)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
