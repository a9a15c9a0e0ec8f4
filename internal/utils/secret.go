package utils

// Scrub zeroes secret material in place. Callers defer it immediately after
// acquiring passphrase or password bytes so every exit path, error paths
// included, wipes the buffer before the frame returns.
func Scrub(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
