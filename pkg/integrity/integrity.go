// Package integrity hashes persisted artifacts with a go-digest algorithm and
// validates client-declared hex digests.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	// Register the hash functions go-digest looks up by name.
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/opencontainers/go-digest"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

const chunkSize = 64 * 1024

// ParseAlgorithm resolves a configured algorithm name such as "sha256".
func ParseAlgorithm(name string) (digest.Algorithm, error) {
	alg := digest.Algorithm(strings.ToLower(name))
	if !alg.Available() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return alg, nil
}

// NormalizeHex lowercases hex and checks its length and alphabet for alg.
func NormalizeHex(alg digest.Algorithm, hex string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(hex))
	if err := digest.NewDigestFromEncoded(alg, normalized).Validate(); err != nil {
		return "", fmt.Errorf("hash must be a %d-char hex %s: %w", alg.Size()*2, alg, err)
	}
	return normalized, nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Sum streams r through alg and returns the lowercase hex digest and the
// number of bytes hashed. onChunk, if set, sees the running byte count after
// every chunk. The context is checked between chunks.
func Sum(ctx context.Context, alg digest.Algorithm, r io.Reader, onChunk func(processed int64)) (string, int64, error) {
	digester := alg.Digester()
	h := digester.Hash()
	buf := make([]byte, chunkSize)

	var processed int64
	for {
		if err := ctx.Err(); err != nil {
			return "", processed, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			processed += int64(n)
			if onChunk != nil {
				onChunk(processed)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", processed, err
		}
	}

	return digester.Digest().Encoded(), processed, nil
}
