package utils

// ContainsString checks if a string slice contains a specific string.
func ContainsString(slice []string, item string) bool {
	for _, a := range slice {
		if a == item {
			return true
		}
	}
	return false
}

// ContainsAny reports whether have shares at least one element with want.
func ContainsAny(have, want []string) bool {
	for _, w := range want {
		if ContainsString(have, w) {
			return true
		}
	}
	return false
}
