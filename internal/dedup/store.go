//go:generate mockgen -destination=mock/mock_store.go -package=mock github.com/smallbiznis/acquiring/internal/dedup Store

package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const keyPrefix = "webhook:dedup:"

var (
	ErrEmptyKey   = errors.New("dedup_key_empty")
	ErrInvalidTTL = errors.New("dedup_ttl_invalid")
)

// Store remembers processed webhook events for a bounded time.
type Store interface {
	// Seen reports whether key is currently marked.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark sets key if it is absent. It returns false when another caller
	// already holds the mark.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key derives the dedup key of one (reference, status) delivery. The
// reference is length-prefixed so distinct pairs never share an encoding.
func Key(reference, status string) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(len(reference)) + ":" + reference + "|" + status))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
