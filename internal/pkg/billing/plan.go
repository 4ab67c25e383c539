package billing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuelReschke/StoreFox/app/models"
)

// NormalizeStatus maps a provider subscription status onto the local
// status set. Anything that still awaits payment is PAST_DUE; anything
// terminal is CANCELED.
func NormalizeStatus(status string) models.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "canceled", "cancelled", "incomplete_expired", "ended":
		return models.SubscriptionStatusCanceled
	default:
		// past_due, unpaid, incomplete, paused and unknown values
		return models.SubscriptionStatusPastDue
	}
}

func parseMetadataID(metadata map[string]string, key string) (uint, error) {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return 0, fmt.Errorf("metadata %s is missing", key)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("metadata %s is not a valid id: %q", key, raw)
	}
	return uint(id), nil
}
