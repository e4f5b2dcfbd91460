package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum[:16])
}

// CollectionName derives the per-bot vector collection name. Milvus collection
// names allow only letters, digits and underscores, so UUID dashes are mapped.
func CollectionName(publicID string) string {
	return "bot_" + strings.ReplaceAll(publicID, "-", "_")
}
