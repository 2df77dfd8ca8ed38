package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimension is the vector length shared across the deployment's
// backend chain.
const DefaultDimension = 768

// HashingProvider is the deterministic offline fallback. It tokenizes text
// into lowercase alphabetic tokens longer than two characters, hashes each
// token to two independent indices in a fixed-size accumulator (the secondary
// index at half magnitude to approximate bigram signal), accumulates token
// frequency, and L2-normalizes the result. It cannot fail for any input;
// an empty token set yields the zero vector.
type HashingProvider struct {
	dimension int
}

// NewHashingProvider creates the fallback provider. A non-positive dimension
// falls back to DefaultDimension.
func NewHashingProvider(dimension int) *HashingProvider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashingProvider{dimension: dimension}
}

var _ Provider = (*HashingProvider)(nil)

// Embed implements Provider. The error is always nil.
func (p *HashingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimension)

	for _, token := range tokenize(text) {
		primary := hashIndex(token, 0, p.dimension)
		secondary := hashIndex(token, 1, p.dimension)
		vec[primary] += 1.0
		vec[secondary] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Name implements Provider.
func (p *HashingProvider) Name() string { return "hashing" }

// Dimension implements Provider.
func (p *HashingProvider) Dimension() int { return p.dimension }

// tokenize splits text into lowercase alphabetic tokens of length > 2.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// hashIndex maps a token to an accumulator index. The seed selects one of two
// independent hash streams for the same token.
func hashIndex(token string, seed byte, dimension int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte{seed})
	_, _ = h.Write([]byte(token))
	return int(h.Sum64() % uint64(dimension))
}
