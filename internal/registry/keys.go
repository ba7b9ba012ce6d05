package registry

import (
	"strings"

	"github.com/gosimple/slug"
)

// ConfigKey returns the canonical config key for a field label:
// "Max Items" becomes "max_items".
func ConfigKey(label string) string {
	return strings.ReplaceAll(slug.Make(label), "-", "_")
}
