// Package serialize formats consensus values for logs and parses them back.
package serialize

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// RootAsString converts a phase0.Root to a 0x prefixed hex string.
func RootAsString(root phase0.Root) string {
	return fmt.Sprintf("%#x", root[:])
}

// ForkDigestAsString converts a phase0.ForkDigest to a 0x prefixed hex string.
func ForkDigestAsString(digest phase0.ForkDigest) string {
	return fmt.Sprintf("%#x", digest[:])
}

// RootsAsString joins roots with commas.
func RootsAsString(roots []phase0.Root) string {
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		out = append(out, RootAsString(root))
	}

	return strings.Join(out, ",")
}

// StringToRoot converts a 0x prefixed hex string to a phase0.Root.
func StringToRoot(s string) (phase0.Root, error) {
	var root phase0.Root
	if len(s) != 66 {
		return root, fmt.Errorf("invalid root length")
	}

	if s[:2] != "0x" {
		return root, fmt.Errorf("invalid root prefix")
	}

	if _, err := hex.Decode(root[:], []byte(s[2:])); err != nil {
		return root, fmt.Errorf("invalid root: %w", err)
	}

	return root, nil
}
