// Package dedupe suppresses near-duplicate listings using 64-bit SimHash
// fingerprints over listing titles. Marketplaces surface the same item
// under trivially reworded titles ("NIKE air max 90" / "Nike Air Max 90 !");
// exact-match dedup misses those.
package dedupe

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint computes a 64-bit SimHash of the text: FNV-64a over
// lower-cased word tokens, accumulated into a signed bit vector.
func Fingerprint(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}
	return fingerprint
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Deduper tracks fingerprints seen within one result set. Not safe for
// concurrent use; create one per scrape.
type Deduper struct {
	threshold int
	seen      []uint64
}

// NewDeduper creates a Deduper. Keys within the given Hamming distance of
// an earlier key count as duplicates; threshold 0 means exact match only.
func NewDeduper(threshold int) *Deduper {
	if threshold < 0 {
		threshold = 0
	}
	return &Deduper{threshold: threshold}
}

// Seen reports whether key is a near-duplicate of an earlier key, and
// records it when it is new. Empty keys are never duplicates.
func (d *Deduper) Seen(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	fp := Fingerprint(key)
	for _, prev := range d.seen {
		if Distance(fp, prev) <= d.threshold {
			return true
		}
	}
	d.seen = append(d.seen, fp)
	return false
}
