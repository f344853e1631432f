package env

import "os"

// Get returns the value of the named environment variable, falling back to
// the provided default when unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// IsSet reports whether the named variable carries a non-empty value.
func IsSet(key string) bool {
	return os.Getenv(key) != ""
}
