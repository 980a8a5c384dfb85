package logging

// MaxLogFieldLength is the default limit for long string log fields
const MaxLogFieldLength = 512

// Truncate shortens s to MaxLogFieldLength bytes
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to n bytes, marking the cut with "..."
func TruncateN(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
