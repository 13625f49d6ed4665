package strx

// Coalesce returns the first non-empty string, or "" when all are empty.
func Coalesce(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
