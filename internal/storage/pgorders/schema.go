package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL,
  address_line TEXT NOT NULL DEFAULT '',
  dest_lat DOUBLE PRECISION NULL,
  dest_lng DOUBLE PRECISION NULL,
  packaging_lat DOUBLE PRECISION NULL,
  packaging_lng DOUBLE PRECISION NULL,
  courier_lat DOUBLE PRECISION NULL,
  courier_lng DOUBLE PRECISION NULL,
  courier_at TIMESTAMPTZ NULL,
  partner_name TEXT NULL,
  partner_phone TEXT NULL,
  partner_vehicle TEXT NULL,
  eta TEXT NULL,
  distance TEXT NULL,
  rating_overall INT NULL,
  rating_packaging INT NULL,
  rating_freshness INT NULL,
  rating_comment TEXT NULL,
  rated_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`
CREATE TABLE IF NOT EXISTS order_status_history (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_status_history_order_id_event_time ON order_status_history(order_id, event_time)`,
		// История append-only и работает как lookup по статусу:
		// статус встречается в ней не более одного раза.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_order_status_history_dedup ON order_status_history(order_id, status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
