package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"skumap/internal/model"
)

// Table is the SQLite table holding mapped sales. Prices are stored as
// decimal text.
const Table = "mapped_sales"

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS "mapped_sales" (
		"source" TEXT NOT NULL DEFAULT '',
		"order_number" TEXT NOT NULL,
		"sku" TEXT NOT NULL,
		"order_date" TEXT NOT NULL,
		"quantity" INTEGER NOT NULL,
		"unit_price" TEXT NOT NULL,
		"total_price" TEXT NOT NULL,
		"master_id" TEXT,
		"mapping_status" TEXT NOT NULL,
		"extra" TEXT,
		"batch_id" TEXT,
		PRIMARY KEY ("source", "order_number", "sku")
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mapped_sales_order_date ON mapped_sales(order_date)`,
	`CREATE INDEX IF NOT EXISTS idx_mapped_sales_master_id ON mapped_sales(master_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mapped_sales_sku ON mapped_sales(sku)`,
}

// SQLiteSink upserts records into mapped_sales. A later run replaces rows
// sharing (source, order_number, sku).
type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	for _, stmt := range schemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) Write(ctx context.Context, batchID string, recs []model.MappedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO "mapped_sales"
		("source","order_number","sku","order_date","quantity","unit_price","total_price","master_id","mapping_status","extra","batch_id")
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		var extra any
		if len(r.Extra) > 0 {
			b, err := json.Marshal(r.Extra)
			if err != nil {
				return fmt.Errorf("marshal extra: %w", err)
			}
			extra = string(b)
		}
		var master any
		if r.MasterID != nil {
			master = *r.MasterID
		}
		if _, err := stmt.ExecContext(ctx,
			r.Source, r.OrderNumber, r.SKU, r.OrderDate.UTC().Format(time.RFC3339),
			r.Quantity, r.UnitPrice.String(), r.TotalPrice.String(),
			master, string(r.Status), extra, batchID,
		); err != nil {
			return fmt.Errorf("insert %s/%s: %w", r.OrderNumber, r.SKU, err)
		}
	}
	return tx.Commit()
}

// ReadAll loads every stored record ordered by order date.
func (s *SQLiteSink) ReadAll(ctx context.Context) ([]model.MappedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT "source","order_number","sku","order_date","quantity",
		"unit_price","total_price","master_id","mapping_status","extra"
		FROM "mapped_sales" ORDER BY "order_date", "rowid"`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []model.MappedRecord
	for rows.Next() {
		var (
			r            model.MappedRecord
			date, status string
			unit, total  string
			master       sql.NullString
			extra        sql.NullString
		)
		if err := rows.Scan(&r.Source, &r.OrderNumber, &r.SKU, &date, &r.Quantity,
			&unit, &total, &master, &status, &extra); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if r.OrderDate, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("parse order_date %q: %w", date, err)
		}
		if r.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, fmt.Errorf("parse unit_price %q: %w", unit, err)
		}
		if r.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse total_price %q: %w", total, err)
		}
		r.Status = model.MappingStatus(status)
		if master.Valid {
			m := master.String
			r.MasterID = &m
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &r.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal extra: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
