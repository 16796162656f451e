// Package utils provides utility functions for the application.
package utils

func ToPtr[T any](v T) *T {
	return &v
}

// IsFalse reports whether b is explicitly false; nil counts as unset, not false.
func IsFalse(b *bool) bool {
	return b != nil && !*b
}
