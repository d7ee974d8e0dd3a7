// Package fileutil provides filesystem helpers for moving bundles around.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// CopyFileVerified copies src to dst and verifies the result by re-reading
// the written file and comparing SHA256 digests. dst is removed when the
// copy came up short or the digests differ.
func CopyFileVerified(src, dst string) error {
	srcSum, srcSize, err := copyAndHash(src, dst)
	if err != nil {
		return err
	}

	dstSum, dstSize, err := hashFile(dst)
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("read back %s: %w", dst, err)
	}
	if dstSize != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, dstSize)
	}
	if !bytes.Equal(srcSum, dstSum) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: %s corrupted during copy", dst)
	}
	return nil
}

func copyAndHash(src, dst string) ([]byte, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, 0, err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		out.Close()
		_ = os.Remove(dst)
		return nil, 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return nil, 0, err
	}
	return hasher.Sum(nil), size, nil
}

func hashFile(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return nil, 0, err
	}
	return hasher.Sum(nil), size, nil
}
