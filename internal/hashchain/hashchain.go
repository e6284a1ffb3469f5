// Package hashchain computes and verifies the content-addressed linkage
// between custody ledger entries.
//
// Every entry hash is a SHA-256 digest over a canonical serialization of the
// entry's fields, including the hash of its predecessor. The serialization is
// versioned: a format version is stored alongside each entry, and changing the
// canonical encoding in any way requires a new version constant so that
// historical entries remain verifiable.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the well-known predecessor hash of the first entry (sequence 0)
// in every evidence item's chain. All chains are anchored on this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Canonical serialization format versions.
const (
	// FormatV1 — pipe-separated UTF-8 fields in fixed order, RFC3339Nano UTC timestamps.
	FormatV1 = 1

	// CurrentFormat is the version used for newly appended entries.
	CurrentFormat = FormatV1
)

// Fields is the canonical hash input for a single custody event. PrevHash is
// part of the input, which is what chains entries together.
type Fields struct {
	EvidenceID string
	Sequence   int
	Action     string
	ActorID    string
	Location   string
	Timestamp  time.Time
	PrevHash   string
}

// encoders maps a format version to its canonical byte encoding.
var encoders = map[int]func(Fields) []byte{
	FormatV1: encodeV1,
}

func encodeV1(f Fields) []byte {
	return fmt.Appendf(nil, "v1|%s|%d|%s|%s|%s|%s|%s",
		f.EvidenceID, f.Sequence, f.Action, f.ActorID, f.Location,
		f.Timestamp.UTC().Format(time.RFC3339Nano), f.PrevHash,
	)
}

// ComputeHash returns the hex-encoded SHA-256 digest of the canonical encoding
// of f under the given format version. Pure function of its inputs.
func ComputeHash(version int, f Fields) (string, error) {
	enc, ok := encoders[version]
	if !ok {
		return "", fmt.Errorf("unknown hash format version %d", version)
	}
	sum := sha256.Sum256(enc(f))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyEntry recomputes the hash for f and reports whether it matches the
// stored hash. An unknown format version is an error, not a mismatch: entries
// written by a newer format must not be reported as tampered by an older reader.
func VerifyEntry(version int, f Fields, storedHash string) (bool, error) {
	recomputed, err := ComputeHash(version, f)
	if err != nil {
		return false, err
	}
	return recomputed == storedHash, nil
}
