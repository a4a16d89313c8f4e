// Package fileid derives stable document ids for entries ingested from files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const prefix = "file:"

// DocID returns the id for the n-th document in the file at absolutePath.
// Used only for entries that carry no id of their own, so re-ingesting a file
// replaces its rows in storage instead of adding new ones.
func DocID(absolutePath string, n int) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s%s:%d", prefix, hex.EncodeToString(hash[:8]), n)
}
