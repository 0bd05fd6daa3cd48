package format

import "fmt"

// FmtBytes formats a byte count with KB/MB/GB suffix for readability.
func FmtBytes(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fGB", float64(n)/1_000_000_000.0)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fMB", float64(n)/1_000_000.0)
	case n >= 1000:
		return fmt.Sprintf("%.1fKB", float64(n)/1000.0)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// ShortDigest abbreviates a content digest to its first 12 hex characters,
// the way short git hashes read.
func ShortDigest(d string) string {
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}

// Truncate shortens s to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
