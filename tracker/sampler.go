package tracker

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// timestampBucketShift groups timestamps into ~1ms buckets so repeated
// events on the same pointer within a bucket share one sampling verdict.
const timestampBucketShift = 20

// sampler makes deterministic per-event keep/drop decisions without an
// RNG: a hash of (ptr, timestamp bucket) is compared against
// rate * 2^64. The proportion of kept events converges to the rate.
type sampler struct {
	threshold uint64
	keepAll   bool
	dropAll   bool
}

func newSampler(rate float64) sampler {
	switch {
	case rate >= 1.0:
		return sampler{keepAll: true}
	case rate <= 0.0:
		return sampler{dropAll: true}
	default:
		return sampler{threshold: uint64(rate * math.MaxUint64)}
	}
}

// keep decides whether to record the event.
func (s sampler) keep(ptr, timestampNs uint64) bool {
	if s.keepAll {
		return true
	}
	if s.dropAll {
		return false
	}
	var key [16]byte
	binary.LittleEndian.PutUint64(key[:8], ptr)
	binary.LittleEndian.PutUint64(key[8:], timestampNs>>timestampBucketShift)
	return xxhash.Sum64(key[:]) < s.threshold
}
