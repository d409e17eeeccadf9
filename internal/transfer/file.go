package transfer

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
)

// chunkHasher keeps a running SHA-256 over chunks fed in index order, so a
// finished transfer never rereads its file.
type chunkHasher struct {
	h    hash.Hash
	next int
}

func newChunkHasher() *chunkHasher {
	return &chunkHasher{h: sha256.New()}
}

func (c *chunkHasher) add(data []byte) {
	c.h.Write(data)
	c.next++
}

func (c *chunkHasher) sum() string {
	return fmt.Sprintf("%x", c.h.Sum(nil))
}

// ExtractFileName reduces a name received from the network to a bare file
// name. Both slash styles are treated as separators.
func ExtractFileName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	base := strings.TrimSpace(parts[len(parts)-1])
	if base == "" || base == "." || base == ".." {
		return "", fmt.Errorf("%w: unusable file name %q", ErrMalformedHeader, name)
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: file name contains NUL", ErrMalformedHeader)
	}
	return base, nil
}

func BuildPartPath(dir, name string, fileID uint32) string {
	return filepath.Join(dir, fmt.Sprintf(".%s.%08x.part", name, fileID))
}

// BuildDownloadPath picks a path in dir that does not exist yet, appending
// " (n)" before the extension when needed.
func BuildDownloadPath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

func CreatePreallocatedFile(path string, size int64) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			_ = os.Remove(path)
			return nil, err
		}
	}
	return file, nil
}
