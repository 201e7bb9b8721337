package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DedupKey builds the canonical deduplication digest for a finding. Every
// rule routes its discriminator tuple through this one function so that field
// ordering is fixed and keys are stable across process restarts: the digest
// is a pure function of its inputs.
//
// Two evaluations describing the same real-world event always collide;
// distinct events (different tuples) never do.
func DedupKey(rule string, parts ...string) string {
	h := sha256.Sum256([]byte(rule + "|" + strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])[:16]
}
