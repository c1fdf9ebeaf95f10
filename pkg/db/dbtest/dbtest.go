// Package dbtest opens throwaway sqlite databases carrying the engine schema.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// schema mirrors the goose migrations with sqlite types.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  slug TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  delivery_type TEXT NOT NULL,
  delivery_config TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS product_prices (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  plan_id TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL,
  selling_price INTEGER NOT NULL,
  capital_cost INTEGER,
  gateway TEXT,
  backup_gateway TEXT
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  order_id TEXT PRIMARY KEY,
  idempotency_key TEXT,
  product_id TEXT NOT NULL,
  product_slug TEXT NOT NULL,
  plan_id TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL,
  selling_price INTEGER NOT NULL DEFAULT 0,
  capital_cost INTEGER,
  quantity INTEGER NOT NULL DEFAULT 1,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'AWAITING_PAYMENT',
  locked INTEGER NOT NULL DEFAULT 0,
  payment_status TEXT NOT NULL DEFAULT 'AWAITING_PROOF',
  payment_provider TEXT,
  payment_provider_ref TEXT,
  payment_amount INTEGER,
  payment_fee INTEGER,
  payment_checkout_url TEXT,
  payment_qr_payload TEXT,
  payment_expires_at DATETIME,
  payment_initiated_at DATETIME,
  payment_paid_at DATETIME,
  delivery_type TEXT,
  delivery_status TEXT NOT NULL DEFAULT 'PENDING',
  delivery_claim_token TEXT,
  delivery_claimed_at DATETIME,
  delivery_delivered_at DATETIME,
  delivery_delivered_by TEXT,
  delivery_content_ref TEXT,
  delivery_error_message TEXT,
  delivery_attempts INTEGER NOT NULL DEFAULT 0,
  final_profit INTEGER,
  margin NUMERIC,
  discrepancy_expected_amount INTEGER,
  discrepancy_received_amount INTEGER,
  discrepancy_raw_payload TEXT,
  reject_reason TEXT,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_provider_ref_idx ON orders (payment_provider, payment_provider_ref) WHERE payment_provider_ref IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS order_audit_logs (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  event TEXT NOT NULL,
  actor TEXT NOT NULL,
  payload TEXT,
  created_at DATETIME NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS stock_items (
  id TEXT PRIMARY KEY,
  product_slug TEXT NOT NULL,
  content TEXT NOT NULL,
  used INTEGER NOT NULL DEFAULT 0,
  assigned_to_order TEXT,
  claimed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stock_items_assigned_order_idx ON stock_items (assigned_to_order) WHERE assigned_to_order IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  published_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a private in-memory database with every engine table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}
