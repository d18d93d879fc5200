package tracker

import (
	"testing"
)

func TestSampler_RateOneKeepsEverything(t *testing.T) {
	s := newSampler(1.0)
	for i := range 1000 {
		if !s.keep(uint64(i), uint64(i)*1000) {
			t.Fatalf("rate 1.0 dropped event %d", i)
		}
	}
}

func TestSampler_RateZeroDropsEverything(t *testing.T) {
	s := newSampler(0.0)
	for i := range 1000 {
		if s.keep(uint64(i), uint64(i)*1000) {
			t.Fatalf("rate 0.0 kept event %d", i)
		}
	}
}

func TestSampler_Deterministic(t *testing.T) {
	s := newSampler(0.5)
	for i := range 100 {
		ptr := uint64(i) * 31
		ts := uint64(i) * 1_000_000
		first := s.keep(ptr, ts)
		for range 5 {
			if s.keep(ptr, ts) != first {
				t.Fatalf("sampling verdict not deterministic for ptr=%d", ptr)
			}
		}
	}
}

func TestSampler_ProportionConverges(t *testing.T) {
	s := newSampler(0.5)
	kept := 0
	const n = 10000
	for i := range n {
		if s.keep(uint64(i)*797, uint64(i)<<22) {
			kept++
		}
	}
	ratio := float64(kept) / n
	if ratio < 0.45 || ratio > 0.55 {
		t.Errorf("kept ratio = %f, want ~0.5", ratio)
	}
}

func TestSampler_BucketSharing(t *testing.T) {
	// Events on the same pointer within one ~1ms bucket share a verdict.
	s := newSampler(0.3)
	base := uint64(1) << 30
	first := s.keep(0x1234, base)
	for off := uint64(0); off < 1000; off += 100 {
		if s.keep(0x1234, base+off) != first {
			t.Fatalf("verdict changed within a timestamp bucket")
		}
	}
}
