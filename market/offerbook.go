package market

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// OfferBook is a Postgres-backed store a Maker uses to persist its own
// published offer across restarts, and a Taker uses to persist the set
// of Makers it has caught misbehaving (spec.md §9's bad_makers) beyond
// one process lifetime — a supplement, since original_source keeps
// bad_makers in memory only.
type OfferBook struct {
	pool *pgxpool.Pool
}

// NewOfferBook opens a pool against dsn and runs every pending migration
// under migrations/ before returning, mirroring the
// migrate-then-serve startup sequence common to the pack's Postgres
// backends.
func NewOfferBook(ctx context.Context, dsn string) (*OfferBook, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, coinswaperr.Wrap(err)
	}

	return &OfferBook{pool: pool}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (b *OfferBook) Close() {
	b.pool.Close()
}

// classifyPgError turns a connection-level failure into coinswaperr's
// ChainError (the store is briefly unreachable, worth retrying) versus
// a Fatal error for anything else, e.g. a check constraint rejecting a
// malformed offer the caller should not retry unchanged.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ConnectionException,
			pgerrcode.ConnectionDoesNotExist,
			pgerrcode.ConnectionFailure,
			pgerrcode.CannotConnectNow:
			return &coinswaperr.ChainError{Cause: err}
		default:
			return &coinswaperr.Fatal{Cause: err}
		}
	}

	return coinswaperr.Wrap(err)
}

// PutOffer upserts this Maker's currently published offer.
func (b *OfferBook) PutOffer(ctx context.Context, makerID string, offer swapwire.Offer) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO offers (maker_id, base_fee, relative_fee_ppb, min_size,
			max_size, refund_locktime, required_confirmations, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (maker_id) DO UPDATE SET
			base_fee = EXCLUDED.base_fee,
			relative_fee_ppb = EXCLUDED.relative_fee_ppb,
			min_size = EXCLUDED.min_size,
			max_size = EXCLUDED.max_size,
			refund_locktime = EXCLUDED.refund_locktime,
			required_confirmations = EXCLUDED.required_confirmations,
			updated_at = now()`,
		makerID, int64(offer.BaseFee), offer.RelativeFeePpb,
		int64(offer.MinSize), int64(offer.MaxSize), offer.RefundLocktime,
		offer.RequiredConfirmations,
	)
	return classifyPgError(err)
}

// AddBadMaker records addr as misbehaving as of now, surviving process
// restarts. until bounds how long the Taker should continue to avoid
// addr before giving it another chance.
func (b *OfferBook) AddBadMaker(ctx context.Context, addr swap.MakerAddress, until time.Time) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO bad_makers (network, host, banned_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (network, host) DO UPDATE SET banned_until = EXCLUDED.banned_until`,
		addr.Network, addr.Host, until,
	)
	return classifyPgError(err)
}

// BadMakers returns every Maker still within its ban window.
func (b *OfferBook) BadMakers(ctx context.Context) ([]swap.MakerAddress, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT network, host FROM bad_makers WHERE banned_until > now()`)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []swap.MakerAddress
	for rows.Next() {
		var addr swap.MakerAddress
		if err := rows.Scan(&addr.Network, &addr.Host); err != nil {
			return nil, coinswaperr.Wrap(err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
