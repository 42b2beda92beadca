//go:build !unix

package presence

// lockFile is a no-op where advisory file locks are unavailable; writers in
// one process are still serialized by the index mutex.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
