package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/boostpanel/backend/internal/models"
	"github.com/boostpanel/backend/internal/payments"
)

// ReconcileService re-queries the payment provider for top-up entries whose
// terminal outcome never arrived via webhook. Anything the provider reports
// paid flows through the same CreditOnce the webhook path uses, so a lost
// callback self-heals without a second crediting mechanism.
type ReconcileService struct {
	db        *sql.DB
	registry  *payments.Registry
	ledger    *LedgerService
	olderThan time.Duration
	batchSize int
	timeout   time.Duration
}

func NewReconcileService(db *sql.DB, registry *payments.Registry, ledger *LedgerService, olderThan time.Duration, batchSize int, providerTimeout time.Duration) *ReconcileService {
	if batchSize <= 0 {
		batchSize = 20
	}
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	return &ReconcileService{
		db:        db,
		registry:  registry,
		ledger:    ledger,
		olderThan: olderThan,
		batchSize: batchSize,
		timeout:   providerTimeout,
	}
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	DryRun      bool            `json:"dry_run"`
	Checked     int             `json:"checked"`
	Credited    int             `json:"credited"`
	Already     int             `json:"already"`
	WouldCredit int             `json:"would_credit,omitempty"`
	Unpaid      int             `json:"unpaid"`
	Failures    int             `json:"failures"`
	Items       []ReconcileItem `json:"items,omitempty"`
}

type ReconcileItem struct {
	EntryID         string `json:"entry_id"`
	Provider        string `json:"provider"`
	ProviderOrderID string `json:"provider_order_id"`
	Result          string `json:"result"`
}

// Run sweeps stale pending (and expired: expired is not terminal against the
// credit engine) top-ups. In dry-run mode it reports what it would confirm
// without mutating anything.
func (rs *ReconcileService) Run(dryRun bool) (*ReconcileReport, error) {
	cutoff := time.Now().Add(-rs.olderThan)
	rows, err := rs.db.Query(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE status IN ('pending', 'expired') AND type = 'topup' AND provider_order_id <> ''
		  AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, rs.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report := &ReconcileReport{DryRun: dryRun}
	for i := range entries {
		entry := &entries[i]
		report.Checked++
		item := ReconcileItem{EntryID: entry.ID, Provider: entry.Provider, ProviderOrderID: entry.ProviderOrderID}

		provider, err := rs.registry.Get(entry.Provider)
		if err != nil {
			report.Failures++
			item.Result = "provider not configured"
			report.Items = append(report.Items, item)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
		status, err := provider.QueryOrder(ctx, entry.ProviderOrderID)
		cancel()
		if err != nil {
			// Recoverable: the entry stays where it is for the next sweep.
			log.Printf("[RECONCILE] Query failed for entry %s (%s order %s): %v",
				entry.ID, entry.Provider, entry.ProviderOrderID, err)
			report.Failures++
			item.Result = "query failed"
			report.Items = append(report.Items, item)
			continue
		}

		if !status.Paid {
			report.Unpaid++
			item.Result = "unpaid"
			report.Items = append(report.Items, item)
			continue
		}

		if dryRun {
			report.WouldCredit++
			item.Result = "would credit"
			report.Items = append(report.Items, item)
			continue
		}

		result, err := rs.ledger.CreditOnce(entry, CreditOptions{
			CaptureID:       status.CaptureID,
			ProviderPayload: status.Raw,
		})
		if err != nil {
			log.Printf("[RECONCILE] Credit failed for entry %s: %v", entry.ID, err)
			report.Failures++
			item.Result = "credit failed"
			report.Items = append(report.Items, item)
			continue
		}

		if result.Credited {
			log.Printf("[RECONCILE] Recovered entry %s via provider query (%.2f %s)", entry.ID, entry.Amount, entry.Currency)
			report.Credited++
			item.Result = "credited"
		} else {
			report.Already++
			item.Result = "already confirmed"
		}
		report.Items = append(report.Items, item)
	}

	return report, nil
}

// RunScheduled is the background-loop entrypoint; failures are logged, never
// propagated.
func (rs *ReconcileService) RunScheduled() {
	report, err := rs.Run(false)
	if err != nil {
		log.Printf("[RECONCILE] Sweep failed: %v", err)
		return
	}
	if report.Checked > 0 {
		log.Printf("[RECONCILE] Sweep done: checked=%d credited=%d already=%d unpaid=%d failures=%d",
			report.Checked, report.Credited, report.Already, report.Unpaid, report.Failures)
	}
}

// AdminReconcile handles POST /admin/reconcile
// @Summary Run a reconciliation sweep
// @Description Re-queries the payment provider for stale top-ups. Pass dry_run=true to preview.
// @Tags admin
// @Produce json
// @Param dry_run query bool false "Report without mutating"
// @Router /admin/reconcile [post]
func (rs *ReconcileService) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"

	report, err := rs.Run(dryRun)
	if err != nil {
		SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, report)
}
