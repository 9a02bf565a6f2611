package sinks

import "strconv"

const (
	kilo = 1000.0
	mega = 1000 * kilo
	giga = 1000 * mega
)

// FormatSize renders a byte count with decimal units. Thresholds are strict, so
// exactly 1000 bytes still prints as bytes.
func FormatSize(n float64) string {
	switch {
	case n > giga:
		return strconv.FormatFloat(n/giga, 'f', 2, 64) + " GB"
	case n > mega:
		return strconv.FormatFloat(n/mega, 'f', 1, 64) + " MB"
	case n > kilo:
		return strconv.FormatFloat(n/kilo, 'f', 1, 64) + " KB"
	default:
		return strconv.FormatFloat(n, 'f', -1, 64) + " bytes"
	}
}

// FormatRate renders a bytes-per-second figure as "<size>/s".
func FormatRate(n float64) string {
	return FormatSize(n) + "/s"
}
