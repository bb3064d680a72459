package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchtoken/backend/internal/config"
	"github.com/watchtoken/backend/internal/models"
)

// ViewsService computes derived reporting views. Everything here is advisory:
// views read a consistent snapshot without taking row locks and are never the
// source of a balance decision. Results are cached in Redis for a short TTL
// when Redis is available.
type ViewsService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.LedgerConfig
}

func NewViewsService(db *sql.DB, redisClient *redis.Client, cfg *config.LedgerConfig) *ViewsService {
	return &ViewsService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
	}
}

func (vs *ViewsService) cached(ctx context.Context, key string, dst any) bool {
	if vs.redis == nil {
		return false
	}
	data, err := vs.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (vs *ViewsService) cache(ctx context.Context, key string, value any) {
	if vs.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := vs.redis.Set(ctx, key, data, vs.cfg.ViewCacheTTL).Err(); err != nil {
		log.Printf("[VIEWS] Cache write failed for %s: %v", key, err)
	}
}

// AccountSummary aggregates one account's completed sent/received activity.
func (vs *ViewsService) AccountSummary(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	key := "views:summary:" + accountID
	var summary models.AccountSummary
	if vs.cached(ctx, key, &summary) {
		return &summary, nil
	}

	err := vs.db.QueryRowContext(ctx,
		`SELECT a.id, a.balance, a.status,
			(SELECT COUNT(*) FROM transactions s WHERE s.from_account = a.id AND s.status = $2),
			(SELECT COALESCE(SUM(s.amount), 0) FROM transactions s WHERE s.from_account = a.id AND s.status = $2),
			(SELECT COUNT(*) FROM transactions r WHERE r.to_account = a.id AND r.status = $2),
			(SELECT COALESCE(SUM(r.amount), 0) FROM transactions r WHERE r.to_account = a.id AND r.status = $2)
		 FROM accounts a
		 WHERE a.id = $1`,
		accountID, models.TxStatusCompleted,
	).Scan(&summary.AccountID, &summary.Balance, &summary.Status,
		&summary.SentCount, &summary.SentAmount,
		&summary.ReceivedCount, &summary.ReceivedAmount)
	if err == sql.ErrNoRows {
		return nil, ledgerErrf(KindNotFound, "Account %s not found", accountID)
	}
	if err != nil {
		return nil, mapStorageError(err)
	}

	vs.cache(ctx, key, &summary)
	return &summary, nil
}

// LedgerStats reports ledger-wide counts and sums by transaction type plus
// current and max supply.
func (vs *ViewsService) LedgerStats(ctx context.Context) (*models.LedgerStats, error) {
	key := "views:ledger-stats"
	var stats models.LedgerStats
	if vs.cached(ctx, key, &stats) {
		return &stats, nil
	}

	err := vs.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM accounts`,
	).Scan(&stats.AccountCount, &stats.TotalBalance)
	if err != nil {
		return nil, mapStorageError(err)
	}

	rows, err := vs.db.QueryContext(ctx,
		`SELECT type, COUNT(*), COALESCE(SUM(amount), 0)
		 FROM transactions WHERE status = $1 GROUP BY type ORDER BY type`,
		models.TxStatusCompleted)
	if err != nil {
		return nil, mapStorageError(err)
	}
	defer rows.Close()

	stats.ByType = []models.TypeStats{}
	for rows.Next() {
		var ts models.TypeStats
		if err := rows.Scan(&ts.Type, &ts.Count, &ts.Amount); err != nil {
			return nil, mapStorageError(err)
		}
		stats.ByType = append(stats.ByType, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStorageError(err)
	}

	cfgRows, err := vs.db.QueryContext(ctx,
		`SELECT key, value FROM ledger_config`)
	if err != nil {
		return nil, mapStorageError(err)
	}
	defer cfgRows.Close()

	for cfgRows.Next() {
		var k, v string
		if err := cfgRows.Scan(&k, &v); err != nil {
			return nil, mapStorageError(err)
		}
		switch k {
		case models.ConfigKeyTotalSupply:
			if d, err := decimal.NewFromString(v); err == nil {
				stats.TotalSupply = d
			}
		case models.ConfigKeyMaxSupply:
			if d, err := decimal.NewFromString(v); err == nil {
				stats.MaxSupply = d
			}
		case models.ConfigKeyTokenSymbol:
			stats.TokenSymbol = v
		}
	}
	if err := cfgRows.Err(); err != nil {
		return nil, mapStorageError(err)
	}
	stats.TokenDecimals = vs.cfg.TokenDecimals

	vs.cache(ctx, key, &stats)
	return &stats, nil
}

// DeviceStats groups registered devices by model and brand.
func (vs *ViewsService) DeviceStats(ctx context.Context) ([]models.DeviceStats, error) {
	key := "views:device-stats"
	var stats []models.DeviceStats
	if vs.cached(ctx, key, &stats) {
		return stats, nil
	}

	rows, err := vs.db.QueryContext(ctx,
		`SELECT COALESCE(model, 'unknown'), COALESCE(brand, 'unknown'), COUNT(*), COALESCE(AVG(balance), 0)
		 FROM accounts GROUP BY model, brand ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, mapStorageError(err)
	}
	defer rows.Close()

	stats = []models.DeviceStats{}
	for rows.Next() {
		var ds models.DeviceStats
		if err := rows.Scan(&ds.Model, &ds.Brand, &ds.Count, &ds.AverageBalance); err != nil {
			return nil, mapStorageError(err)
		}
		stats = append(stats, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStorageError(err)
	}

	vs.cache(ctx, key, stats)
	return stats, nil
}

// GetAccountSummary handles account summary lookups
// @Summary Account summary
// @Description Balance plus aggregated completed sent/received activity
// @Tags views
// @Produce json
// @Param accountId query string true "Account ID"
// @Success 200 {object} models.AccountSummary
// @Failure 404 {object} ErrorResponse
// @Router /views/account-summary [get]
func (vs *ViewsService) GetAccountSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		SendErrorResponse(w, "accountId query parameter required", http.StatusBadRequest, nil)
		return
	}
	if _, err := uuid.Parse(accountID); err != nil {
		SendErrorResponse(w, "accountId must be a valid UUID", http.StatusBadRequest, nil)
		return
	}

	summary, err := vs.AccountSummary(r.Context(), accountID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, summary)
}

// GetLedgerStats handles ledger statistics lookups
// @Summary Ledger statistics
// @Description Counts and sums by transaction type, current vs max supply
// @Tags views
// @Produce json
// @Success 200 {object} models.LedgerStats
// @Router /views/ledger-stats [get]
func (vs *ViewsService) GetLedgerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := vs.LedgerStats(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, stats)
}

// GetDeviceStats handles device statistics lookups
// @Summary Device statistics
// @Description Device counts and average balances grouped by model and brand
// @Tags views
// @Produce json
// @Success 200 {array} models.DeviceStats
// @Router /views/device-stats [get]
func (vs *ViewsService) GetDeviceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := vs.DeviceStats(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, stats)
}
