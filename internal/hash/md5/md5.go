// Package md5 provides the MD5 digests written next to every archived file.
package md5

import (
	"crypto/md5" // #nosec G501 -- MD5 is the archive's fixity format, not a security control.
	"encoding/hex"
	"fmt"
)

// SidecarExt is the extension of checksum sidecar files.
const SidecarExt = ".md5"

// Hasher implements crawler.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) // #nosec G401
	return hex.EncodeToString(sum[:]), nil
}

// SidecarLine renders the two-column md5sum format: digest, two spaces, name.
func SidecarLine(digest, filename string) string {
	return fmt.Sprintf("%s  %s\n", digest, filename)
}
