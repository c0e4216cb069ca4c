package core

// StringPtr returns a pointer to s, for optional fields.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to i, for optional fields.
func Int64Ptr(i int64) *int64 {
	return &i
}
