package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Postgres struct {
	ctx     context.Context
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	p := &Postgres{ctx: ctx, pool: pool, timeout: 5 * time.Second}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	return WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, PostgresSchema)
		return errors.Wrap(err, "apply postgres schema")
	})
}

func (p *Postgres) RecordTrade(t TradeRecord) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO trades
		(trade_id, run_id, symbol, side, quantity, entry_price, exit_price, open_time, close_time, pnl, pnl_pct, commission, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING`,
		t.TradeID, t.RunID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
		t.OpenTime.UTC(), t.CloseTime.UTC(), t.PnL, t.PnLPct, t.Commission, t.Reason,
	)
	return errors.Wrapf(err, "insert trade %s", t.TradeID)
}

func (p *Postgres) RecordEquity(e EquitySnapshot) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO equity (run_id, symbol, time, balance, equity)
		VALUES ($1, $2, $3, $4, $5)`,
		e.RunID, e.Symbol, e.Time.UTC(), e.Balance, e.Equity,
	)
	return errors.Wrap(err, "insert equity")
}

// RecordTrades writes a batch of trades in one transaction.
func (p *Postgres) RecordTrades(ctx context.Context, trades []TradeRecord) error {
	return WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range trades {
			batch.Queue(`
				INSERT INTO trades
				(trade_id, run_id, symbol, side, quantity, entry_price, exit_price, open_time, close_time, pnl, pnl_pct, commission, reason)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (trade_id) DO NOTHING`,
				t.TradeID, t.RunID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
				t.OpenTime.UTC(), t.CloseTime.UTC(), t.PnL, t.PnLPct, t.Commission, t.Reason,
			)
		}
		return errors.Wrap(tx.SendBatch(ctx, batch).Close(), "insert trade batch")
	})
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn in a read-committed transaction. It commits when fn
// returns nil and rolls back on error or panic.
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = errors.Wrap(tx.Commit(ctx), "commit tx")
	}()

	return fn(tx)
}
