package lod

import (
	"math"
	"testing"
)

func TestTierMonotonic(t *testing.T) {
	c := New()
	prev := Tier0
	for d := 0; d <= 64; d++ {
		tier := c.TierForDistSq(d * d)
		if tier < prev {
			t.Fatalf("tier decreased at distance %d: %d -> %d", d, prev, tier)
		}
		prev = tier
	}
	if prev != Tier3 {
		t.Fatalf("far tier = %d, want %d", prev, Tier3)
	}
}

func TestBoundaryRecompute(t *testing.T) {
	c := New()
	c.SetThreshold(8)
	c.SetMaxRenderDistance(20)

	// range = 12: lod2 at 8 + 3.6 -> 11, lod3 at 8 + 7.2 -> 15
	if got := c.Lod2Start(); got != 11 {
		t.Fatalf("lod2Start = %d, want 11", got)
	}
	if got := c.Lod3Start(); got != 15 {
		t.Fatalf("lod3Start = %d, want 15", got)
	}

	c.SetThreshold(12)
	c.SetMaxRenderDistance(24)

	// range = 12: lod2 at 15, lod3 at 19
	if got := c.Lod2Start(); got != 15 {
		t.Fatalf("lod2Start after change = %d, want 15", got)
	}
	if got := c.Lod3Start(); got != 19 {
		t.Fatalf("lod3Start after change = %d, want 19", got)
	}
	if got := c.UnloadDistance(); got != 26 {
		t.Fatalf("unloadDistance = %d, want 26", got)
	}
}

func TestCapacityCircular(t *testing.T) {
	c := New()
	c.SetMaxRenderDistance(20)
	wantF := math.Pi * 400 * 1.1
	want := int(wantF) // ~1382, below the ceiling
	if got := c.MaxLoadedChunks(); got != want {
		t.Fatalf("capacity = %d, want %d", got, want)
	}

	c.SetMaxRenderDistance(40)
	if got := c.MaxLoadedChunks(); got != AbsoluteMaxChunks {
		t.Fatalf("capacity at max distance = %d, want ceiling %d", got, AbsoluteMaxChunks)
	}
}

func TestClamps(t *testing.T) {
	c := New()
	c.SetThreshold(100)
	if got := c.Threshold(); got != 16 {
		t.Fatalf("threshold clamp = %d, want 16", got)
	}
	c.SetMaxRenderDistance(1)
	if got := c.MaxRenderDistance(); got != 8 {
		t.Fatalf("max distance clamp = %d, want 8", got)
	}
}

func TestPresets(t *testing.T) {
	c := New()
	c.ApplyPreset(QualityUltra)
	if c.Threshold() != 10 || c.MaxRenderDistance() != 40 {
		t.Fatalf("ultra preset = (%d,%d), want (10,40)", c.Threshold(), c.MaxRenderDistance())
	}
	if got := c.FogEnd(); got != 640 {
		t.Fatalf("fog end = %v, want 640", got)
	}
	if got := c.FarPlane(); got != 704 {
		t.Fatalf("far plane = %v, want 704", got)
	}
}

func TestTierBoundariesUseSquaredDistance(t *testing.T) {
	c := New()
	c.SetThreshold(8)
	c.SetMaxRenderDistance(20) // lod2=11, lod3=15

	cases := []struct {
		distSq int
		want   Tier
	}{
		{64, Tier0},   // 8^2 inclusive
		{65, Tier1},   //
		{121, Tier1},  // 11^2 inclusive
		{122, Tier2},  //
		{225, Tier2},  // 15^2 inclusive
		{226, Tier3},  //
		{1000, Tier3}, //
	}
	for _, tc := range cases {
		if got := c.TierForDistSq(tc.distSq); got != tc.want {
			t.Fatalf("TierForDistSq(%d) = %d, want %d", tc.distSq, got, tc.want)
		}
	}
}
