package run

import "testing"

func TestFormatTicks(t *testing.T) {
	cases := []struct {
		ticks int64
		want  string
	}{
		{0, "0:00.0"},
		{-5, "0:00.0"},
		{TicksPerSecond, "0:01.0"},
		{TicksPerSecond/2 + 4*TicksPerSecond + 3*60*TicksPerSecond, "3:04.5"},
		{59*TicksPerSecond + 62*60*TicksPerSecond, "1:02:59.0"},
		{(60*60+2*60+59)*TicksPerSecond + 9*TicksPerSecond/10, "1:02:59.9"},
	}
	for _, tc := range cases {
		if got := FormatTicks(tc.ticks); got != tc.want {
			t.Fatalf("FormatTicks(%d) = %q, want %q", tc.ticks, got, tc.want)
		}
	}
}
