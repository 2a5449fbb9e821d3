package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/boostpanel/backend/internal/fulfillment"
	"github.com/boostpanel/backend/internal/models"
)

// DispatchService advances fulfillment orders: one dispatch and one sync per
// cycle, oldest first. One-at-a-time processing bounds load on the panel and
// removes the need for per-order locking.
type DispatchService struct {
	db      *sql.DB
	client  fulfillment.Client
	catalog *CatalogService
	timeout time.Duration
	running atomic.Bool
	now     func() time.Time
}

func NewDispatchService(db *sql.DB, client fulfillment.Client, catalog *CatalogService, providerTimeout time.Duration) *DispatchService {
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	return &DispatchService{
		db:      db,
		client:  client,
		catalog: catalog,
		timeout: providerTimeout,
		now:     time.Now,
	}
}

// RunCycle is the tick body. The guard makes cycles single-flight: a tick
// that fires while the previous cycle is still running does nothing at all.
func (ds *DispatchService) RunCycle() {
	if !ds.running.CompareAndSwap(false, true) {
		log.Printf("[DISPATCH] Previous cycle still running, skipping tick")
		return
	}
	defer ds.running.Store(false)

	if err := ds.dispatchOne(); err != nil {
		// Dispatch failure ends the cycle; the next tick starts fresh.
		return
	}
	ds.syncOne()
}

// dispatchOne submits the oldest undispatched pending order upstream. Any
// failure marks that one order failed and stops the cycle; there is no
// in-tick retry.
func (ds *DispatchService) dispatchOne() error {
	var orderID, serviceID, link string
	var quantity int
	err := ds.db.QueryRow(`
		SELECT id, service_id, link, quantity FROM orders
		WHERE status = 'pending' AND provider_order_id = ''
		ORDER BY created_at ASC LIMIT 1
	`).Scan(&orderID, &serviceID, &link, &quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		log.Printf("[DISPATCH] Failed to select dispatchable order: %v", err)
		return err
	}

	svc, err := ds.catalog.GetService(serviceID)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			ds.markFailed(orderID, fmt.Sprintf("service %s no longer exists", serviceID))
			return err
		}
		log.Printf("[DISPATCH] Failed to resolve service for order %s: %v", orderID, err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ds.timeout)
	defer cancel()

	providerOrderID, err := ds.client.CreateOrder(ctx, svc.ExternalID, link, quantity)
	if err != nil {
		ds.markFailed(orderID, err.Error())
		return err
	}
	if providerOrderID == "" {
		ds.markFailed(orderID, "provider returned no order id")
		return errors.New("provider returned no order id")
	}

	if _, err := ds.db.Exec(`
		UPDATE orders SET provider_order_id = $1, status = 'processing', last_error = '', updated_at = $2
		WHERE id = $3
	`, providerOrderID, ds.now(), orderID); err != nil {
		log.Printf("[DISPATCH] Failed to store provider order id for %s: %v", orderID, err)
		return err
	}

	log.Printf("[DISPATCH] Order %s dispatched as provider order %s", orderID, providerOrderID)
	return nil
}

// syncOne polls the least-recently-synced in-flight order. Provider failures
// here are non-fatal: recorded on the order, status untouched.
func (ds *DispatchService) syncOne() {
	var orderID, providerOrderID string
	err := ds.db.QueryRow(`
		SELECT id, provider_order_id FROM orders
		WHERE status IN ('pending', 'processing') AND provider_order_id <> ''
		ORDER BY updated_at ASC LIMIT 1
	`).Scan(&orderID, &providerOrderID)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[DISPATCH] Failed to select syncable order: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ds.timeout)
	defer cancel()

	rawStatus, err := ds.client.GetStatus(ctx, providerOrderID)
	if err != nil {
		if _, updErr := ds.db.Exec(`
			UPDATE orders SET last_error = $1, updated_at = $2 WHERE id = $3
		`, truncateError(err.Error()), ds.now(), orderID); updErr != nil {
			log.Printf("[DISPATCH] Failed to record sync error for %s: %v", orderID, updErr)
		}
		return
	}

	normalized := fulfillment.NormalizeStatus(rawStatus)
	now := ds.now()
	if _, err := ds.db.Exec(`
		UPDATE orders
		SET status = $1, provider_status = $2, last_error = '',
		    completed_at = CASE WHEN $1 = 'completed' AND completed_at IS NULL THEN $3 ELSE completed_at END,
		    updated_at = $3
		WHERE id = $4
	`, normalized, rawStatus, now, orderID); err != nil {
		log.Printf("[DISPATCH] Failed to store sync result for %s: %v", orderID, err)
		return
	}

	if normalized == models.OrderStatusCompleted || normalized == models.OrderStatusFailed {
		log.Printf("[DISPATCH] Order %s reached terminal status %s (raw %q)", orderID, normalized, rawStatus)
	}
}

func (ds *DispatchService) markFailed(orderID, reason string) {
	if _, err := ds.db.Exec(`
		UPDATE orders SET status = 'failed', last_error = $1, updated_at = $2 WHERE id = $3
	`, truncateError(reason), ds.now(), orderID); err != nil {
		log.Printf("[DISPATCH] Failed to mark order %s failed: %v", orderID, err)
	}
	log.Printf("[DISPATCH] Order %s failed: %s", orderID, truncateError(reason))
}
