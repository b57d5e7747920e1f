package tinkoff

import (
	"strings"

	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
)

var statusMap = map[string]domain.Status{
	"CONFIRMED": domain.StatusSuccess,

	"REJECTED":         domain.StatusFailed,
	"AUTH_FAIL":        domain.StatusFailed,
	"DEADLINE_EXPIRED": domain.StatusFailed,

	"CANCELED":         domain.StatusCancelled,
	"REVERSED":         domain.StatusCancelled,
	"PARTIAL_REVERSED": domain.StatusCancelled,

	"REFUNDED":         domain.StatusRefunded,
	"PARTIAL_REFUNDED": domain.StatusPartiallyRefunded,
}

// MapStatus converts a provider status to the internal enum. In-flight and
// unrecognized statuses map to PENDING.
func MapStatus(providerStatus string) domain.Status {
	if status, ok := statusMap[strings.ToUpper(strings.TrimSpace(providerStatus))]; ok {
		return status
	}
	return domain.StatusPending
}
