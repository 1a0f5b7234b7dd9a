// Package checksum wraps content digests used to pin downloaded artifacts.
package checksum

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"io"
	"os"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// MismatchError reports bytes whose digest differs from the declared one.
type MismatchError struct {
	Want digest.Digest
	Got  digest.Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Want, e.Got)
}

// Parse turns a declared checksum into a digest. A bare hex string is taken
// as SHA-256; "algo:hex" selects the algorithm explicitly.
func Parse(s string) (digest.Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty checksum")
	}
	var d digest.Digest
	if strings.Contains(s, ":") {
		d = digest.Digest(s)
	} else {
		d = digest.NewDigestFromEncoded(digest.SHA256, s)
	}
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid checksum %q: %w", s, err)
	}
	return d, nil
}

// Digester hashes a stream with the algorithm of want and compares the result.
type Digester struct {
	want     digest.Digest
	digester digest.Digester
}

// NewDigester returns a Digester for the given expected digest.
func NewDigester(want digest.Digest) *Digester {
	return &Digester{want: want, digester: want.Algorithm().Digester()}
}

// Writer receives the bytes to hash.
func (d *Digester) Writer() io.Writer {
	return d.digester.Hash()
}

// Verify returns a *MismatchError when the hashed bytes differ from want.
func (d *Digester) Verify() (digest.Digest, error) {
	got := d.digester.Digest()
	if got != d.want {
		return got, &MismatchError{Want: d.want, Got: got}
	}
	return got, nil
}

// VerifyReader hashes r and compares it with want.
func VerifyReader(r io.Reader, want digest.Digest) (digest.Digest, error) {
	d := NewDigester(want)
	if _, err := io.Copy(d.Writer(), r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return d.Verify()
}

// VerifyFile hashes the file at path and compares it with want.
func VerifyFile(path string, want digest.Digest) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return VerifyReader(f, want)
}

// FromFile computes the SHA-256 digest of the file at path.
func FromFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.SHA256.FromReader(f)
}
