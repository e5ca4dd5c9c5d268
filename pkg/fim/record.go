// Package fim implements the file-integrity monitor: a baseline of
// monitored files' metadata and content hash, deviation detection
// against that baseline, and alert emission — the security surface that
// feeds the audit hash chain in pkg/audit.
//
// Grounded on gvisor's fsimpl stat-attribute plumbing for the shape of
// a file metadata snapshot, generalized here into a monitored baseline
// record rather than an in-kernel inode attribute cache.
package fim

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"time"
)

// Algorithm names accepted for file content hashing. SHA-256 is the
// default; SHA-1, SHA-512, and MD5 are also supported.
const (
	SHA256 = "sha256"
	SHA1   = "sha1"
	SHA512 = "sha512"
	MD5    = "md5"
)

func newHasher(algorithm string) hash.Hash {
	switch algorithm {
	case SHA1:
		return sha1.New()
	case SHA512:
		return sha512.New()
	case MD5:
		return md5.New()
	default:
		return sha256.New()
	}
}

// Record is the stored baseline for one monitored file.
type Record struct {
	Path       string
	Algorithm  string
	Hash       string
	Size       int64
	Mode       os.FileMode
	ModTime    time.Time
	Owner      uint32
	Group      uint32
	LastChecked time.Time

	Alerts []Alert

	// Disabled is set when the monitored file goes missing, disabling
	// further checks until it is re-added.
	Disabled bool
}

// hashFile computes path's content hash under algorithm.
func hashFile(path, algorithm string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := newHasher(algorithm)
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func snapshot(path, algorithm string) (Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, err
	}
	sum, size, err := hashFile(path, algorithm)
	if err != nil {
		return Record{}, err
	}
	owner, group := ownerGroup(info)
	return Record{
		Path:        path,
		Algorithm:   algorithm,
		Hash:        sum,
		Size:        size,
		Mode:        info.Mode(),
		ModTime:     info.ModTime(),
		Owner:       owner,
		Group:       group,
		LastChecked: time.Now().UTC(),
	}, nil
}
