package zone

import "testing"

func TestSerialLessRFC1982(t *testing.T) {
	cases := []struct {
		a, b Serial
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{1, 1, false},
		{0xFFFFFFFF, 0, true},  // wraps forward
		{0, 0xFFFFFFFF, false}, // the same pair, reversed
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("Serial(%d).Less(%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSerialLessOrEqual(t *testing.T) {
	if !Serial(5).LessOrEqual(5) {
		t.Error("expected equal serials to satisfy LessOrEqual")
	}
	if !Serial(5).LessOrEqual(6) {
		t.Error("expected 5 <= 6")
	}
	if Serial(6).LessOrEqual(5) {
		t.Error("expected 6 <= 5 to be false")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	from, to := Serial(100), Serial(101)
	k := Key(from, to)
	gotFrom, gotTo := UnpackKey(k)
	if gotFrom != from || gotTo != to {
		t.Errorf("UnpackKey(Key(%d,%d)) = (%d,%d)", from, to, gotFrom, gotTo)
	}
}

func TestByFromByTo(t *testing.T) {
	k := Key(100, 101)
	if ByFrom(100)(k) != 0 {
		t.Error("ByFrom(100) should match key with from=100")
	}
	if ByFrom(99)(k) == 0 {
		t.Error("ByFrom(99) should not match key with from=100")
	}
	if ByTo(101)(k) != 0 {
		t.Error("ByTo(101) should match key with to=101")
	}
}
