package utils

// Ptr returns a pointer to v. Used for the optional timestamp fields on
// notification patches.
func Ptr[T any](v T) *T {
	return &v
}
