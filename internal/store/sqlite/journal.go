package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"coinchart/internal/model"
)

// Journal records orders placed on the exchange.
type Journal struct {
	db *sqlx.DB
}

// Journal returns the order journal backed by d.
func (d *DB) Journal() *Journal { return &Journal{db: d.db} }

type orderRow struct {
	ID          int64  `db:"id"`
	OrderID     string `db:"order_id"`
	OrderLinkID string `db:"order_link_id"`
	Symbol      string `db:"symbol"`
	Side        string `db:"side"`
	Qty         string `db:"qty"`
	Leverage    int    `db:"leverage"`
	EntryPrice  string `db:"entry_price"`
	TakeProfit  string `db:"take_profit"`
	StopLoss    string `db:"stop_loss"`
	Mode        string `db:"mode"`
	CreatedAt   int64  `db:"created_at"` // unix ms
}

func toRow(r model.OrderRecord) orderRow {
	return orderRow{
		ID:          r.ID,
		OrderID:     r.OrderID,
		OrderLinkID: r.OrderLinkID,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Qty:         r.Qty,
		Leverage:    r.Leverage,
		EntryPrice:  r.EntryPrice,
		TakeProfit:  r.TakeProfit,
		StopLoss:    r.StopLoss,
		Mode:        r.Mode,
		CreatedAt:   r.CreatedAt.UnixMilli(),
	}
}

func (o orderRow) record() model.OrderRecord {
	return model.OrderRecord{
		ID:          o.ID,
		OrderID:     o.OrderID,
		OrderLinkID: o.OrderLinkID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Qty:         o.Qty,
		Leverage:    o.Leverage,
		EntryPrice:  o.EntryPrice,
		TakeProfit:  o.TakeProfit,
		StopLoss:    o.StopLoss,
		Mode:        o.Mode,
		CreatedAt:   time.UnixMilli(o.CreatedAt).UTC(),
	}
}

// Record appends an order and returns its row id.
func (j *Journal) Record(ctx context.Context, r model.OrderRecord) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := j.db.NamedExecContext(ctx,
		`INSERT INTO orders (order_id, order_link_id, symbol, side, qty, leverage, entry_price, take_profit, stop_loss, mode, created_at)
		 VALUES (:order_id, :order_link_id, :symbol, :side, :qty, :leverage, :entry_price, :take_profit, :stop_loss, :mode, :created_at)`,
		toRow(r))
	if err != nil {
		return 0, fmt.Errorf("record order %s: %w", r.OrderID, err)
	}
	return res.LastInsertId()
}

// Recent returns the last limit orders, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]model.OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []orderRow
	if err := j.db.SelectContext(ctx, &rows,
		`SELECT id, order_id, order_link_id, symbol, side, qty, leverage, entry_price, take_profit, stop_loss, mode, created_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	out := make([]model.OrderRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// Prune deletes orders created before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM orders WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune orders: %w", err)
	}
	return res.RowsAffected()
}
