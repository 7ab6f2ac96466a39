package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// ContentHash returns the hex SHA-256 digest of the fields joined with "|".
// Separators inside a field are escaped so distinct tuples never collide.
func ContentHash(fields ...string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = fieldEscaper.Replace(f)
	}
	sum := sha256.Sum256([]byte(strings.Join(escaped, "|")))
	return hex.EncodeToString(sum[:])
}

// ChangedFields lists, in sorted order, every key whose value differs between
// the two snapshots. A key missing on one side counts as "".
func ChangedFields(old, cur map[string]string) []string {
	keys := make(map[string]struct{}, len(cur))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range cur {
		keys[k] = struct{}{}
	}

	changed := []string{}
	for k := range keys {
		if old[k] != cur[k] {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
