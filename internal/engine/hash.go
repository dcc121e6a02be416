package engine

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// hashBufSize matches the copy buffer so hashing and copying read the
// same-sized chunks.
const hashBufSize = 32 * 1024

// HashFile returns the hex BLAKE3 digest of the file at path. Manifest
// rows, content comparison and verification all use this form.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := hashReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

func hashReader(r io.Reader) (string, error) {
	h := newHasher()
	if _, err := io.CopyBuffer(h, r, make([]byte, hashBufSize)); err != nil {
		return "", err
	}
	return hexDigest(h), nil
}

func newHasher() hash.Hash { return blake3.New() }

func hexDigest(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }
