package util

// Ptr returns a pointer to v. Handy for literal optional fields.
func Ptr[T any](v T) *T {
	return &v
}
