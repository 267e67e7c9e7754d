package row

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for row fingerprints. Version suffix enables future
// algorithm migration without ambiguity against old hashes.
const domainRow = "coach/row/v1"

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content fingerprint of a row, scoped to its
// entity type. Identical field values under a different entity type hash
// differently. Field order never affects the result (keys are sorted by
// canonical serialization).
func Fingerprint(entityType string, r Row) (string, error) {
	canonical, err := MarshalCanonicalRow(r)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", entityType, err)
	}
	h := sha256.New()
	h.Write([]byte(domainRow))
	h.Write([]byte{0x00})
	h.Write([]byte(entityType))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(entityType string, r Row) string {
	fp, err := Fingerprint(entityType, r)
	if err != nil {
		panic(err)
	}
	return fp
}
