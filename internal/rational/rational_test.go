package rational

import "testing"

func TestNewReducesToLowestTerms(t *testing.T) {
	f := New(60000, 2002)
	if f.Num != 30000 || f.Den != 1001 {
		t.Fatalf("got %v, want 30000/1001", f)
	}
}

func TestSnapCanonicalRates(t *testing.T) {
	cases := []struct {
		name     string
		in       FPS
		wantNum  int64
		wantDen  int64
	}{
		{"exact 30000/1001", New(30000, 1001), 30000, 1001},
		{"23.976 decoder approximation", New(23976, 1000), 24000, 1001},
		{"exact 25", New(25, 1), 25, 1},
		{"far off, unsnapped", New(13, 7), 13, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Snap(c.in)
			if got.Num != c.wantNum || got.Den != c.wantDen {
				t.Fatalf("Snap(%v) = %v, want %d/%d", c.in, got, c.wantNum, c.wantDen)
			}
		})
	}
}

func TestDeadlineNsExactOverManyFrames(t *testing.T) {
	f := New(30000, 1001)
	// deadline(N) - deadline(N-1) accumulated must equal deadline(N); no drift.
	var prev int64
	for n := int64(1); n <= 100000; n++ {
		d := f.DeadlineNs(n)
		if d <= prev {
			t.Fatalf("deadline not monotonic at n=%d: %d <= %d", n, d, prev)
		}
		prev = d
	}
	// Exact check: deadline(n) == n*whole + floor(n*rem/num)
	whole, rem, num := f.FrameDurationNs()
	for _, n := range []int64{0, 1, 1000, 1000000} {
		want := n*whole + (n*rem)/num
		if got := f.DeadlineNs(n); got != want {
			t.Fatalf("DeadlineNs(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestPTS90kPerFrame(t *testing.T) {
	cases := []struct {
		f    FPS
		want int64
	}{
		{New(30, 1), 3000},
		{New(25, 1), 3600},
		{New(30000, 1001), 3003}, // 90000*1001/30000 = 3003 exactly
		{New(24000, 1001), 3754}, // round(90000*1001/24000) = round(3753.75) = 3754
	}
	for _, c := range cases {
		if got := c.f.PTS90kPerFrame(); got != c.want {
			t.Fatalf("PTS90kPerFrame(%v) = %d, want %d", c.f, got, c.want)
		}
	}
}

func TestChannelTimeMs(t *testing.T) {
	f := New(30000, 1001)
	// 300 frames at 30000/1001 ~= 10.01s -> 10010 ms
	if got := f.ChannelTimeMs(300); got != 10010 {
		t.Fatalf("ChannelTimeMs(300) = %d, want 10010", got)
	}
}

func TestSamplesPerTick(t *testing.T) {
	f := New(30000, 1001)
	spt := f.SamplesPerTick(48000)
	// 48000*1001/30000 = 1601.6 -> round to 1602
	if spt != 1602 {
		t.Fatalf("SamplesPerTick = %d, want 1602", spt)
	}
}

func TestWithinTolerance(t *testing.T) {
	a := New(30, 1)
	b := New(30000, 1001) // ~29.97, within 1% of 30
	if !a.WithinTolerance(b, 0.01) {
		t.Fatalf("expected 30 and 30000/1001 within 1%%")
	}
	c := New(60, 1)
	if a.WithinTolerance(c, 0.01) {
		t.Fatalf("expected 30 and 60 not within 1%%")
	}
}

func TestEqual(t *testing.T) {
	a := New(60000, 2002)
	b := New(30000, 1001)
	if !a.Equal(b) {
		t.Fatalf("expected %v == %v", a, b)
	}
}
