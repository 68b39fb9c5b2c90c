package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// The version suffix leaves room for algorithm migration.
const (
	DomainFact = "universe/fact/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactDigest computes the structural digest of a fact.
// Seq and Invocation are excluded: two facts describing the same change
// to the same rows have the same digest. The propagator relies on this to
// detect reactions that keep re-triggering themselves without progress.
func FactDigest(f *Fact) (string, error) {
	canonical, err := MarshalCanonical(f.Structure())
	if err != nil {
		return "", fmt.Errorf("FactDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFact, canonical), nil
}

// BodyDigest hashes a fact structure that is already in canonical JSON
// form, as stored by the journal. For any fact f,
// BodyDigest(MarshalCanonical(f.Structure())) equals FactDigest(f).
func BodyDigest(canonical []byte) string {
	return hashWithDomain(DomainFact, canonical)
}
