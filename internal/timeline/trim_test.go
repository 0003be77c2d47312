package timeline

import (
	"errors"
	"testing"
)

func TestTrim_Clamping(t *testing.T) {
	tests := []struct {
		name  string
		side  Side
		delta int64
		want  int64
	}{
		{"left past source start", SideLeft, -5000, 0},
		{"right past source end", SideRight, 5000, 0},
		{"left past minimum duration", SideLeft, 20000, 10000 - 100},
		{"right past minimum duration", SideRight, -20000, -(10000 - 100)},
		{"left within bounds", SideLeft, 2500, 2500},
		{"right within bounds", SideRight, -2500, -2500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.place(t, f.video.ID, f.base.ID, 0)
			got, err := f.tl.Trim(c.ID, tt.side, tt.delta)
			if err != nil {
				t.Fatalf("Trim() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Trim() applied = %d, want %d", got, tt.want)
			}
			checkInvariants(t, f.tl)
		})
	}
}

func TestTrim_StopsAtNeighbours(t *testing.T) {
	f := newFixture(t)
	a := f.place(t, f.video.ID, f.base.ID, 0)
	b := f.place(t, f.video.ID, f.base.ID, 10000)

	// Make slack on both sides of b's source, then pull its left edge into a.
	if _, err := f.tl.Trim(b.ID, SideLeft, 3000); err != nil {
		t.Fatal(err)
	}
	got, err := f.tl.Trim(b.ID, SideLeft, -5000)
	if err != nil {
		t.Fatal(err)
	}
	if got != -3000 {
		t.Errorf("left trim into neighbour applied %d, want -3000", got)
	}

	if _, err := f.tl.Trim(a.ID, SideRight, -4000); err != nil {
		t.Fatal(err)
	}
	got, err = f.tl.Trim(a.ID, SideRight, 6000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4000 {
		t.Errorf("right trim into neighbour applied %d, want 4000", got)
	}
	checkInvariants(t, f.tl)
}

func TestTrim_ImageExtendsToCap(t *testing.T) {
	f := newFixture(t)
	c := f.place(t, f.still.ID, f.base.ID, 0)
	got, err := f.tl.Trim(c.ID, SideRight, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10000 {
		t.Errorf("image extension applied %d, want 10000", got)
	}

	got, err = f.tl.Trim(c.ID, SideRight, 2*DefaultLimits().MaxImageDurationMs)
	if err != nil {
		t.Fatal(err)
	}
	c, _ = f.tl.Clip(c.ID)
	if c.TrimEndMs != DefaultLimits().MaxImageDurationMs {
		t.Errorf("TrimEndMs = %d, want cap %d (applied %d)", c.TrimEndMs, DefaultLimits().MaxImageDurationMs, got)
	}
}

func TestTrim_RoundTripRestores(t *testing.T) {
	for _, side := range []Side{SideLeft, SideRight} {
		t.Run(string(side), func(t *testing.T) {
			f := newFixture(t)
			c := f.place(t, f.video.ID, f.base.ID, 5000)
			if _, err := f.tl.Trim(c.ID, SideLeft, 2000); err != nil {
				t.Fatal(err)
			}
			if _, err := f.tl.Trim(c.ID, SideRight, -2000); err != nil {
				t.Fatal(err)
			}
			before, _ := f.tl.Clip(c.ID)

			for _, d := range []int64{700, -700} {
				if got, err := f.tl.Trim(c.ID, side, -d); err != nil || got != -d {
					t.Fatalf("Trim(%s, %d) = %d, %v", side, -d, got, err)
				}
				if got, err := f.tl.Trim(c.ID, side, d); err != nil || got != d {
					t.Fatalf("Trim(%s, %d) = %d, %v", side, d, got, err)
				}
				if after, _ := f.tl.Clip(c.ID); after != before {
					t.Errorf("round trip changed clip: %+v -> %+v", before, after)
				}
			}
		})
	}
}

func TestTrim_LockedTrack(t *testing.T) {
	f := newFixture(t)
	c := f.place(t, f.video.ID, f.base.ID, 0)
	if err := f.tl.SetTrackLocked(f.base.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tl.Trim(c.ID, SideRight, -100); !errors.Is(err, ErrTrackLocked) {
		t.Errorf("Trim() error = %v, want ErrTrackLocked", err)
	}
}

func TestTrimGesture_FreezesUntilReversal(t *testing.T) {
	f := newFixture(t)
	c := f.place(t, f.video.ID, f.base.ID, 0)
	g, err := f.tl.BeginTrim(c.ID, SideLeft)
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		total int64
		want  int64
	}{
		{-500, 0},  // clamped at source start: freeze
		{-800, 0},  // further overshoot ignored
		{-100, 0},  // reversing but still beyond the boundary point
		{300, 300}, // crossed back past the boundary: trimming resumes
		{1000, 1000},
		{400, 400},
	}
	for _, s := range steps {
		got, err := g.Update(s.total)
		if err != nil {
			t.Fatalf("Update(%d) error = %v", s.total, err)
		}
		if got != s.want {
			t.Errorf("Update(%d) = %d, want %d", s.total, got, s.want)
		}
	}
	clip, _ := f.tl.Clip(c.ID)
	if clip.StartMs != 400 || clip.TrimStartMs != 400 {
		t.Errorf("clip after gesture = %+v", clip)
	}
}

func TestTrimGesture_PartialClampFreezesAtMaximum(t *testing.T) {
	f := newFixture(t)
	c := f.place(t, f.video.ID, f.base.ID, 0)
	if _, err := f.tl.Trim(c.ID, SideRight, -1000); err != nil {
		t.Fatal(err)
	}
	g, err := f.tl.BeginTrim(c.ID, SideRight)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := g.Update(2500); got != 1000 {
		t.Errorf("overshooting drag applied %d, want the 1000ms available", got)
	}
	if got, _ := g.Update(1500); got != 1000 {
		t.Errorf("frozen drag applied %d, want 1000", got)
	}
	if got, _ := g.Update(600); got != 600 {
		t.Errorf("reversed drag applied %d, want 600", got)
	}
}

func TestSplit_PartitionsSource(t *testing.T) {
	f := newFixture(t)
	c := f.place(t, f.video.ID, f.pip.ID, 0)
	if _, err := f.tl.Trim(c.ID, SideLeft, 1000); err != nil {
		t.Fatal(err)
	}
	if err := f.tl.SetTransform(c.ID, Transform{X: 10, Y: 20, Width: 300, Height: 200, Rotation: 15, Opacity: 0.5}); err != nil {
		t.Fatal(err)
	}
	orig, _ := f.tl.Clip(c.ID)

	right, err := f.tl.Split(c.ID, 4000)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	left, _ := f.tl.Clip(c.ID)

	if left.TrimStartMs != orig.TrimStartMs || right.TrimEndMs != orig.TrimEndMs {
		t.Errorf("outer source bounds changed: left %+v right %+v", left, right)
	}
	if left.TrimEndMs != right.TrimStartMs || left.TrimEndMs != 4000 {
		t.Errorf("source intervals not contiguous at the cut: %d / %d", left.TrimEndMs, right.TrimStartMs)
	}
	if left.EndMs != 4000 || right.StartMs != 4000 || right.EndMs != orig.EndMs {
		t.Errorf("timeline intervals wrong: left %+v right %+v", left, right)
	}
	lt, _ := f.tl.Transform(left.ID)
	rt, _ := f.tl.Transform(right.ID)
	if lt != rt {
		t.Errorf("split clip transform %+v, want inherited %+v", rt, lt)
	}
	if right.Layer != left.Layer {
		t.Errorf("split clip layer %d, want %d", right.Layer, left.Layer)
	}
	checkInvariants(t, f.tl)
}

func TestSplit_Rejects(t *testing.T) {
	tests := []struct {
		name string
		at   int64
		want error
	}{
		{"at start", 0, ErrOutOfRange},
		{"at end", 10000, ErrOutOfRange},
		{"outside", 12000, ErrOutOfRange},
		{"left part too short", 50, ErrTooShort},
		{"right part too short", 9950, ErrTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.place(t, f.video.ID, f.base.ID, 0)
			if _, err := f.tl.Split(c.ID, tt.at); !errors.Is(err, tt.want) {
				t.Errorf("Split(%d) error = %v, want %v", tt.at, err, tt.want)
			}
			if got, _ := f.tl.Clip(c.ID); got != c {
				t.Errorf("rejected split changed clip: %+v", got)
			}
		})
	}
}
