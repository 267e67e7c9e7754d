// Package row models domain row payloads as a closed set of typed values
// and provides the canonical serialization and fingerprinting used by the
// mutation ledger.
//
// A Row is a map from column name to Value. The Value interface is sealed:
// only Null, String, Int, Float, Bool, Array, and Object implement it.
// Keeping the set closed means the ledger's diff and hash logic never has
// to reason about arbitrary dynamic types.
//
// # Canonical Serialization
//
// MarshalCanonical produces deterministic JSON for fingerprinting:
//   - Object keys sorted bytewise
//   - Strings NFC normalized
//   - No HTML escaping (< > & are NOT escaped)
//   - Floats in shortest round-trip form; NaN and Inf are rejected
//
// Fingerprints are SHA-256 with domain separation:
// SHA256(domain + 0x00 + canonicalJSON). The fingerprint is a change
// detection signal, not a tamper-evidence primitive, but a standard digest
// keeps it stable across processes and cheap to compare.
package row
