package authorizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/authz-engine/go-core/pkg/types"
)

// decisionCacheKey derives a stable cache key for one (snapshot version,
// principal, action, resource, context) tuple. Every context key=value pair
// is hashed, in sorted key order so map iteration order cannot change the
// key; requests whose contexts differ in any field get different keys.
func decisionCacheKey(snapshotVersion string, principal types.EntityUid, action string, resource types.EntityUid, rawContext map[string]interface{}) string {
	h := sha256.New()
	fmt.Fprintf(h, "v:%s;p:%s;a:%s;r:%s;", snapshotVersion, principal, action, resource)

	keys := make([]string, 0, len(rawContext))
	for k := range rawContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "c:%s=%v;", k, rawContext[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
