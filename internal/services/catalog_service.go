package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/boostpanel/backend/internal/models"
)

var ErrServiceNotFound = errors.New("service not found")

const catalogCacheTTL = 5 * time.Minute

// CatalogService resolves sellable services. Read-only from the ledger
// core's perspective; lookups are cached in Redis since the dispatch loop
// hits them on every tick.
type CatalogService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewCatalogService(db *sql.DB, redisClient *redis.Client) *CatalogService {
	return &CatalogService{db: db, redis: redisClient}
}

// GetService resolves a service id to its external identifier, quantity
// bounds, and rate.
func (cs *CatalogService) GetService(serviceID string) (*models.Service, error) {
	cacheKey := "catalog:service:" + serviceID
	if cs.redis != nil {
		if cached, err := cs.redis.Get(context.Background(), cacheKey).Result(); err == nil {
			var svc models.Service
			if json.Unmarshal([]byte(cached), &svc) == nil {
				return &svc, nil
			}
		}
	}

	svc := &models.Service{}
	err := cs.db.QueryRow(`
		SELECT id, name, external_id, min_quantity, max_quantity, rate_per_1000, active
		FROM services WHERE id = $1
	`, serviceID).Scan(&svc.ID, &svc.Name, &svc.ExternalID, &svc.MinQuantity,
		&svc.MaxQuantity, &svc.RatePer1000, &svc.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	if cs.redis != nil {
		if data, err := json.Marshal(svc); err == nil {
			if err := cs.redis.Set(context.Background(), cacheKey, data, catalogCacheTTL).Err(); err != nil {
				log.Printf("[CATALOG] Failed to cache service %s: %v", serviceID, err)
			}
		}
	}
	return svc, nil
}

// ListServices handles GET /services
// @Summary List active services
// @Tags catalog
// @Produce json
// @Router /services [get]
func (cs *CatalogService) ListServices(w http.ResponseWriter, r *http.Request) {
	rows, err := cs.db.Query(`
		SELECT id, name, external_id, min_quantity, max_quantity, rate_per_1000, active
		FROM services WHERE active ORDER BY name
	`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch services", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	services := []models.Service{}
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.ExternalID, &svc.MinQuantity,
			&svc.MaxQuantity, &svc.RatePer1000, &svc.Active); err != nil {
			SendErrorResponse(w, "Failed to fetch services", http.StatusInternalServerError, nil)
			return
		}
		services = append(services, svc)
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"services": services,
		"count":    len(services),
	})
}
