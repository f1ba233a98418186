package ledger

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq atomic.Uint64

// NewID builds a process-unique identifier like "hold-1712345678901234567-42".
// The sequence suffix disambiguates IDs minted within the same nanosecond.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}
