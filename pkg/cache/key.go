package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Cache keys are namespaced by actor and operation so one actor's cached
// result can never satisfy a lookup for another. Parameters are folded into
// a short hash to keep keys bounded regardless of parameter size.

// UserKey builds a cache key scoped to a single user:
// user:<id>:<operation>:<params-hash>
func UserKey(userID, operation string, params ...string) string {
	return fmt.Sprintf("user:%s:%s:%s", userID, operation, hashParams(params))
}

// AdminKey builds a cache key for admin-wide operations:
// admin:<operation>:<params-hash>
func AdminKey(operation string, params ...string) string {
	return fmt.Sprintf("admin:%s:%s", operation, hashParams(params))
}

// hashParams returns a stable short hash over the parameter list.
// The separator guards against ("ab","c") colliding with ("a","bc").
func hashParams(params []string) string {
	h := xxhash.Sum64String(strings.Join(params, "\x1f"))
	return fmt.Sprintf("%016x", h)
}
