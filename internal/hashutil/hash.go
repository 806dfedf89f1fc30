// Package hashutil provides bounded streaming SHA-256, used by the
// process and module scanners when hashing is enabled (§6.2
// process_hash, modules_hash; §8 invariant 14: process hash cap 1 MiB,
// module hash cap 2 MiB read).
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// SHA256Capped reads at most maxBytes from r and returns the lowercase
// hex SHA-256 digest of what was read. It never errors on a short read;
// callers that care whether the cap was hit should compare n to
// maxBytes via SHA256CappedN.
func SHA256Capped(r io.Reader, maxBytes int64) (string, error) {
	digest, _, err := SHA256CappedN(r, maxBytes)
	return digest, err
}

// SHA256CappedN is SHA256Capped but also returns the number of bytes
// actually hashed, so callers can detect a truncated read.
func SHA256CappedN(r io.Reader, maxBytes int64) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, io.LimitReader(r, maxBytes))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
