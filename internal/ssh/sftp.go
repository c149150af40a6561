package ssh

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// PushFile uploads a local file to a remote path, creating parent
// directories and keeping the local permission bits so scripts stay
// executable.
func PushFile(sf *sftp.Client, localPath, remotePath string) error {
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	st, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local: %w", err)
	}
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := sf.Chmod(remotePath, st.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod remote: %w", err)
	}
	return nil
}

// PullFile downloads a remote file to a local path.
func PullFile(sf *sftp.Client, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir local: %w", err)
	}
	src, err := sf.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// PullTree downloads remotePath into localDir. A directory is copied
// recursively under localDir/<base>; a single file lands in localDir.
func PullTree(sf *sftp.Client, remotePath, localDir string) (int, error) {
	root := path.Clean(remotePath)
	parent := path.Dir(root)
	walker := sf.Walk(root)
	n := 0
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return n, fmt.Errorf("walk %s: %w", walker.Path(), err)
		}
		rel, err := filepath.Rel(parent, walker.Path())
		if err != nil {
			return n, err
		}
		target := filepath.Join(localDir, filepath.FromSlash(rel))
		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, fmt.Errorf("mkdir local: %w", err)
			}
			continue
		}
		if err := PullFile(sf, walker.Path(), target); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RemoteExists reports whether a path exists on the remote side.
func RemoteExists(sf *sftp.Client, remotePath string) (bool, error) {
	_, err := sf.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat remote: %w", err)
}

// FileChecksum returns the hex SHA256 of a local file.
func FileChecksum(filePath string) (string, error) {
	f, err := os.Open(filePath)
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
