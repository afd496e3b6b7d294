// Package requestid generates unique request identifiers used to correlate
// log lines and denial responses for a single request.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// fallback counter when random generation fails
var counter atomic.Uint64

// New generates a request ID with format: timestamp-randomhex
// Example: 1737039600123-a2b3c4d5
func New() string {
	timestamp := time.Now().UnixMilli()

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("%d-%d", timestamp, counter.Add(1))
	}

	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(randomBytes))
}
