package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/model"
)

type ClickHouseAuditStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClickHouseAuditStore(addr string, database string, username string, password string, logger *zap.Logger) (*ClickHouseAuditStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &ClickHouseAuditStore{
		conn:   conn,
		logger: logger,
	}, nil
}

func (s *ClickHouseAuditStore) Append(ctx context.Context, entries []*model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO admission_audit")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		err := batch.Append(
			entry.OrderID,
			entry.WorkerID,
			entry.ActorID,
			entry.Action,
			entry.Outcome,
			entry.Detail,
			entry.Timestamp,
			time.Now(), // created_at
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (s *ClickHouseAuditStore) List(ctx context.Context, orderID string, limit int) ([]model.AuditEntry, error) {
	orderUUID, err := uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id: %w", err)
	}

	query := "SELECT order_id, worker_id, actor_id, action, outcome, detail, timestamp FROM admission_audit WHERE order_id = ? ORDER BY timestamp DESC"
	args := []interface{}{orderUUID}

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		if err := rows.Scan(
			&entry.OrderID,
			&entry.WorkerID,
			&entry.ActorID,
			&entry.Action,
			&entry.Outcome,
			&entry.Detail,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *ClickHouseAuditStore) DeleteOld(ctx context.Context, retentionDays int) error {
	// ClickHouse handles retention via TTL natively.
	return nil
}

func (s *ClickHouseAuditStore) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the table if not exists
func (s *ClickHouseAuditStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS admission_audit (
		order_id UUID,
		worker_id UUID,
		actor_id UUID,
		action LowCardinality(String),
		outcome LowCardinality(String),
		detail String Codec(ZSTD),
		timestamp Int64 Codec(Delta, ZSTD),
		created_at DateTime DEFAULT now()
	)
	ENGINE = MergeTree()
	ORDER BY (order_id, timestamp)
	TTL created_at + INTERVAL 90 DAY
	`
	return s.conn.Exec(ctx, query)
}
