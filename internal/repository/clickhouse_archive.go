package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VolBot/internal/domain/models"
	pkgch "VolBot/pkg/clickhouse"
	applogger "VolBot/pkg/logger"
)

var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		ts      DateTime64(3) CODEC(Delta, ZSTD),
		symbol  LowCardinality(String),
		open    Float64,
		high    Float64,
		low     Float64,
		close   Float64,
		volume  Float64
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(ts)
	ORDER BY (symbol, ts)
	TTL toDateTime(ts) + INTERVAL 1 YEAR`,
}

// CandleArchive implements the append-only candle archive backed by
// ClickHouse.
type CandleArchive struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewCandleArchive(ch *pkgch.Client) *CandleArchive {
	return &CandleArchive{client: ch, db: ch.DB()}
}

// SetLogger injects a structured logger.
func (a *CandleArchive) SetLogger(l *applogger.Logger) { a.l = l }

// InitSchema ensures the archive table exists. Idempotent.
func (a *CandleArchive) InitSchema(ctx context.Context) error {
	return a.client.InitSchema(ctx, archiveSchema)
}

func (a *CandleArchive) Store(ctx context.Context, symbol string, c *models.Candle) error {
	const q = `
		INSERT INTO candles (ts, symbol, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, q,
		time.UnixMilli(c.Timestamp), symbol, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		if a.l != nil {
			a.l.Error("clickhouse candle insert error",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("archive candle: %w", err)
	}
	return nil
}

func (a *CandleArchive) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Candle, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
		LIMIT ?`
	rows, err := a.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		if a.l != nil {
			a.l.Error("clickhouse candle query error",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Candle, 0, 256)
	for rows.Next() {
		var (
			ts time.Time
			c  models.Candle
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Timestamp = ts.UnixMilli()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (a *CandleArchive) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

func (a *CandleArchive) Close() error {
	return a.client.Close()
}
