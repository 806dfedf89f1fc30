// Package compressutil provides bounded streaming decompression for
// .ko.xz and .ko.gz kernel module files (§4.Y). Decoders never panic or
// return a partial-but-erroring state to the caller: any short read,
// decoder error, or byte-cap exceed yields an empty result, and the
// caller decides whether to record a DecompressFail warning.
package compressutil

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/ulikunitz/xz"
)

// DecompressXZ decompresses data as xz, capped at maxBytes of output.
// On any error it returns (nil, false) rather than a partial buffer.
func DecompressXZ(data []byte, maxBytes int64) ([]byte, bool) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	out, ok := readCapped(r, maxBytes)
	return out, ok
}

// DecompressGZ decompresses data as gzip, capped at maxBytes of output.
func DecompressGZ(data []byte, maxBytes int64) ([]byte, bool) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, ok := readCapped(r, maxBytes)
	return out, ok
}

// readCapped reads at most maxBytes+1 from r; if that extra byte is
// actually readable, the stream exceeded the cap and the result is
// discarded (ok=false) so callers never silently truncate and treat a
// module as verified when it wasn't fully inspected.
func readCapped(r io.Reader, maxBytes int64) ([]byte, bool) {
	limited := io.LimitReader(r, maxBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, false
	}
	if int64(len(buf)) > maxBytes {
		return nil, false
	}
	return buf, true
}
