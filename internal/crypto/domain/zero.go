package domain

// Zero overwrites key material in place so plaintext keys do not linger on
// the heap after Close. A nil slice is a no-op.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
