// Package fsutil holds the filesystem primitives shared by cleaners, the
// backup manager and the walker: reads that leave atime alone, sibling temp
// files, durable copies and atomic replacement.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TempSibling creates an empty temp file next to path that keeps path's
// extension, so format-sniffing tools treat it like the original. The caller
// owns removal.
func TempSibling(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	f, err := os.CreateTemp(dir, "."+stem+".metascrub-*"+ext)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// CopyToTemp copies src to a fresh sibling temp file and returns its path.
func CopyToTemp(src string) (string, error) {
	tmp, err := TempSibling(src)
	if err != nil {
		return "", err
	}
	if _, _, err := CopyFile(src, tmp, 0o600); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// CopyFile copies src to dst byte-for-byte, fsyncs dst, and returns the
// number of bytes written and their SHA-256. dst is truncated if it exists.
func CopyFile(src, dst string, perm os.FileMode) (int64, string, error) {
	in, err := OpenNoAtime(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, "", err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		return n, "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return n, "", fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return n, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA-256 of path's contents.
func HashFile(path string) (string, error) {
	f, err := OpenNoAtime(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReplaceFile atomically moves tmp over dst, carrying dst's permission bits
// across. tmp must live on the same filesystem as dst.
func ReplaceFile(tmp, dst string) error {
	if fi, err := os.Stat(dst); err == nil {
		if err := os.Chmod(tmp, fi.Mode().Perm()); err != nil {
			return err
		}
	}
	if f, err := os.OpenFile(tmp, os.O_RDWR, 0); err == nil {
		_ = f.Sync()
		f.Close()
	}
	return os.Rename(tmp, dst)
}

// ReadHeader returns up to n leading bytes of path without touching atime.
func ReadHeader(path string, n int) ([]byte, error) {
	f, err := OpenNoAtime(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:m], nil
}
