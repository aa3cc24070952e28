package util

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates a string to a fixed width.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "...")
	}
	return str + strings.Repeat(" ", width-w)
}

// ShortID keeps the first n cells of id and marks the cut with "...".
func ShortID(id string, n int) string {
	return runewidth.Truncate(id, n, "") + "..."
}

// FormatSize renders a byte count with a binary unit and one decimal.
func FormatSize(size uint64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	value := float64(size) / unit
	exp := 0
	for value >= unit && exp < len(units)-1 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", value, units[exp])
}
