// Near-duplicate detection for message text: a 64-bit SimHash fingerprint and Jaccard token overlap.
//
// Both operate on keyword.ContentTokens, so case, punctuation, and single-character tokens don't affect the result.
package simhash

import (
	"math/bits"

	"github.com/chatwarden/warden/automod/keyword"

	"github.com/spaolacci/murmur3"
)

// Texts whose fingerprints differ in at most this many bits are candidate near-duplicates.
const DefaultMaxDistance = 10

// Computes the SimHash fingerprint of text. Returns 0 when the text has no content tokens (empty, whitespace-only, or only single-character tokens).
func Compute(text string) uint64 {
	toks := keyword.ContentTokens(text)
	if len(toks) == 0 {
		return 0
	}

	var weights [64]int
	for _, tok := range toks {
		h := murmur3.Sum64([]byte(tok))
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	var out uint64
	for i, w := range weights {
		if w > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// Number of differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func Similar(a, b uint64, maxDistance int) bool {
	return HammingDistance(a, b) <= maxDistance
}

// Intersection-over-union of the two texts' content token sets. Always in [0,1]; 0 when either side has no tokens.
func Jaccard(a, b string) float64 {
	sa := keyword.TokenSet(a)
	sb := keyword.TokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	if len(sa) > len(sb) {
		sa, sb = sb, sa
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}
