package run

import "fmt"

// FormatTicks renders elapsed cycle units as a human-readable time, with a
// tenths digit: "4:03.2", "1:02:59.9".
func FormatTicks(ticks int64) string {
	if ticks < 0 {
		ticks = 0
	}
	tenths := ticks * 10 / TicksPerSecond
	seconds := tenths / 10
	tenths %= 10
	minutes := seconds / 60
	seconds %= 60
	hours := minutes / 60
	minutes %= 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%d", hours, minutes, seconds, tenths)
	}
	return fmt.Sprintf("%d:%02d.%d", minutes, seconds, tenths)
}
