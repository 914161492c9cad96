package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// SpoolSize is the chunk size used when streaming book files
const SpoolSize = 30 * 1024 * 1024

// HashReader returns the hex SHA-256 of r, reading in SpoolSize chunks
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, SpoolSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA-256 of the file at path
func HashFile(path string, cfg *RetryConfig) (string, error) {
	f, err := RetryableOpen(path, cfg)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return HashReader(f)
}
