package fulfillment

import (
	"log"
	"strings"

	"github.com/boostpanel/backend/internal/models"
)

// Alias sets are checked in priority order: a raw value claiming both
// completion and failure words resolves to the first matching bucket.
var statusAliases = []struct {
	canonical string
	aliases   map[string]bool
}{
	{models.OrderStatusCompleted, map[string]bool{
		"completed": true, "complete": true, "success": true, "successful": true,
		"finished": true, "done": true, "delivered": true,
	}},
	{models.OrderStatusFailed, map[string]bool{
		"failed": true, "fail": true, "error": true, "canceled": true,
		"cancelled": true, "refunded": true, "declined": true, "rejected": true,
	}},
	{models.OrderStatusPending, map[string]bool{
		"pending": true, "queued": true, "created": true, "new": true,
		"awaiting": true, "waiting": true,
	}},
	{models.OrderStatusProcessing, map[string]bool{
		"processing": true, "in_progress": true, "inprogress": true, "active": true,
		"running": true, "started": true, "partial": true, "partially_completed": true,
	}},
}

// NormalizeStatus maps an arbitrary upstream status string onto the canonical
// four-state vocabulary. Unrecognized values fall open to processing so an
// upstream vocabulary change never drops an order on the floor; the unknown
// value is logged so operators can see contract drift.
func NormalizeStatus(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}

	for _, set := range statusAliases {
		if set.aliases[key] {
			return set.canonical
		}
	}

	if key != "" {
		log.Printf("[FULFILLMENT] Unrecognized provider status %q, treating as processing", raw)
	}
	return models.OrderStatusProcessing
}
