package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint is the stable cache key of a synthesis request.
type Fingerprint string

// maxSlugLen bounds the readable voice prefix of a fingerprint.
const maxSlugLen = 40

// Key holds the request fields that affect the rendered audio.
type Key struct {
	Backend string
	Voice   string
	Style   string
	Format  string
	Text    string

	// Version is bumped by a backend to invalidate entries it rendered
	// with an older request format.
	Version uint32
}

// Fingerprint hashes the key. Text is NFC-normalized and trimmed so that
// visually identical phrases share a fingerprint.
func (k Key) Fingerprint() Fingerprint {
	h := sha256.New()
	writeField(h, k.Backend)
	writeField(h, k.Voice)
	writeField(h, k.Style)
	writeField(h, k.Format)
	writeField(h, norm.NFC.String(strings.TrimSpace(k.Text)))

	var v [4]byte
	binary.BigEndian.PutUint32(v[:], k.Version)
	h.Write(v[:])

	return Fingerprint(slug(k.Voice) + "-" + hex.EncodeToString(h.Sum(nil)))
}

// writeField length-prefixes s so adjacent fields cannot run together.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// slug keeps fingerprints readable as file names.
func slug(voice string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(voice) {
		if b.Len() >= maxSlugLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

// Valid reports whether f has the shape produced by Key.Fingerprint. Only
// valid fingerprints are used as file or object names.
func (f Fingerprint) Valid() bool {
	s := string(f)
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || len(s)-i-1 != sha256.Size*2 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
