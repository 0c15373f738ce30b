package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	seq           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_collection ON items (collection_id, seq);

CREATE TABLE IF NOT EXISTS auctions (
	id                   TEXT PRIMARY KEY,
	collection_id        TEXT NOT NULL,
	round_duration_ms    INTEGER NOT NULL,
	items_per_round      INTEGER NOT NULL,
	current_round_number INTEGER NOT NULL DEFAULT 0,
	total_rounds         INTEGER NOT NULL,
	status               TEXT NOT NULL,
	created_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rounds (
	auction_id   TEXT NOT NULL REFERENCES auctions (id),
	round_number INTEGER NOT NULL,
	status       TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	ended_at     INTEGER,
	PRIMARY KEY (auction_id, round_number)
);

CREATE TABLE IF NOT EXISTS round_items (
	auction_id   TEXT NOT NULL,
	round_number INTEGER NOT NULL,
	position     INTEGER NOT NULL,
	item_id      TEXT NOT NULL REFERENCES items (id),
	PRIMARY KEY (auction_id, round_number, position)
);

CREATE TABLE IF NOT EXISTS ownerships (
	item_id        TEXT PRIMARY KEY REFERENCES items (id),
	owner_id       TEXT NOT NULL,
	auction_id     TEXT NOT NULL,
	acquired_price TEXT NOT NULL,
	acquired_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ownerships_owner ON ownerships (owner_id);

CREATE TABLE IF NOT EXISTS wallets (
	user_id TEXT PRIMARY KEY,
	balance TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_charges (
	user_id    TEXT NOT NULL,
	auction_id TEXT NOT NULL,
	amount     TEXT NOT NULL,
	PRIMARY KEY (user_id, auction_id)
);
`

// SQLiteRepo implements DurableRepo on SQLite
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection keeps :memory: databases alive too
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

// Close releases the database handle
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func sqlErr(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, biddingerrors.ErrStoreUnavailable, err)
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func (r *SQLiteRepo) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sqlErr(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return sqlErr(op, err)
	}
	return nil
}

// CreateAuction inserts a new auction
func (r *SQLiteRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auctions (id, collection_id, round_duration_ms, items_per_round, current_round_number, total_rounds, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AuctionID, a.CollectionID, a.RoundDuration.Milliseconds(), a.ItemsPerRound,
		a.CurrentRoundNumber, a.TotalRounds, string(a.Status), a.CreatedAt.UnixMilli())
	if isConstraint(err) {
		return fmt.Errorf("create auction %s: %w - already exists", a.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	if err != nil {
		return sqlErr("create auction", err)
	}
	return nil
}

const auctionColumns = `id, collection_id, round_duration_ms, items_per_round, current_round_number, total_rounds, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a          model.Auction
		durationMs int64
		status     string
		createdAt  int64
	)
	err := row.Scan(&a.AuctionID, &a.CollectionID, &durationMs, &a.ItemsPerRound,
		&a.CurrentRoundNumber, &a.TotalRounds, &status, &createdAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.RoundDuration = time.Duration(durationMs) * time.Millisecond
	a.Status = model.AuctionStatus(status)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return a, nil
}

// GetAuction reads one auction
func (r *SQLiteRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, auctionID)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, sqlErr("get auction", err)
	}
	return a, nil
}

// ListActiveAuctions reads every active auction, oldest first
func (r *SQLiteRepo) ListActiveAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = ? ORDER BY created_at, id`, string(model.StatusActive))
	if err != nil {
		return nil, sqlErr("list active auctions", err)
	}
	defer rows.Close()

	auctions := make([]model.Auction, 0)
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, sqlErr("scan auction", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlErr("list active auctions", err)
	}
	return auctions, nil
}

func (r *SQLiteRepo) updateAuction(ctx context.Context, op, auctionID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return sqlErr(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", op, auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

// SetCurrentRound updates the auction's current round number
func (r *SQLiteRepo) SetCurrentRound(ctx context.Context, auctionID string, round int) error {
	return r.updateAuction(ctx, "set current round", auctionID,
		`UPDATE auctions SET current_round_number = ? WHERE id = ?`, round, auctionID)
}

// FinishAuction marks the auction finished
func (r *SQLiteRepo) FinishAuction(ctx context.Context, auctionID string) error {
	return r.updateAuction(ctx, "finish auction", auctionID,
		`UPDATE auctions SET status = ? WHERE id = ?`, string(model.StatusFinished), auctionID)
}

// CreateRound inserts a round and its ordered item list
func (r *SQLiteRepo) CreateRound(ctx context.Context, round model.Round) error {
	return r.withTx(ctx, "create round", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions WHERE id = ?`, round.AuctionID).Scan(&exists)
		if err != nil {
			return sqlErr("create round", err)
		}
		if exists == 0 {
			return fmt.Errorf("create round %d of %s: %w", round.RoundNumber, round.AuctionID, biddingerrors.ErrAuctionNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO rounds (auction_id, round_number, status, started_at, ended_at) VALUES (?, ?, ?, ?, ?)`,
			round.AuctionID, round.RoundNumber, string(round.Status), round.StartedAt.UnixMilli(), nullableMillis(round.EndedAt))
		if isConstraint(err) {
			return fmt.Errorf("create round %d of %s: %w - already exists", round.RoundNumber, round.AuctionID, biddingerrors.ErrInvalidAuction)
		}
		if err != nil {
			return sqlErr("create round", err)
		}

		for i, itemID := range round.ItemIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO round_items (auction_id, round_number, position, item_id) VALUES (?, ?, ?, ?)`,
				round.AuctionID, round.RoundNumber, i, itemID)
			if isConstraint(err) {
				return fmt.Errorf("create round %d of %s: %w - %s", round.RoundNumber, round.AuctionID, biddingerrors.ErrItemNotFound, itemID)
			}
			if err != nil {
				return sqlErr("create round items", err)
			}
		}
		return nil
	})
}

func nullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

const roundColumns = `auction_id, round_number, status, started_at, ended_at`

func scanRound(row rowScanner) (model.Round, error) {
	var (
		round     model.Round
		status    string
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&round.AuctionID, &round.RoundNumber, &status, &startedAt, &endedAt); err != nil {
		return model.Round{}, err
	}
	round.Status = model.AuctionStatus(status)
	round.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		round.EndedAt = time.UnixMilli(endedAt.Int64).UTC()
	}
	return round, nil
}

func (r *SQLiteRepo) loadRoundItems(ctx context.Context, round *model.Round) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id FROM round_items WHERE auction_id = ? AND round_number = ? ORDER BY position`,
		round.AuctionID, round.RoundNumber)
	if err != nil {
		return sqlErr("load round items", err)
	}
	defer rows.Close()

	round.ItemIDs = make([]string, 0)
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return sqlErr("scan round item", err)
		}
		round.ItemIDs = append(round.ItemIDs, itemID)
	}
	if err := rows.Err(); err != nil {
		return sqlErr("load round items", err)
	}
	return nil
}

func (r *SQLiteRepo) queryOneRound(ctx context.Context, op, auctionID string, query string, args ...any) (model.Round, error) {
	round, err := scanRound(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Round{}, fmt.Errorf("%s of %s: %w", op, auctionID, biddingerrors.ErrRoundNotFound)
	}
	if err != nil {
		return model.Round{}, sqlErr(op, err)
	}
	if err := r.loadRoundItems(ctx, &round); err != nil {
		return model.Round{}, err
	}
	return round, nil
}

// GetRound reads one round with its items
func (r *SQLiteRepo) GetRound(ctx context.Context, auctionID string, number int) (model.Round, error) {
	return r.queryOneRound(ctx, fmt.Sprintf("get round %d", number), auctionID,
		`SELECT `+roundColumns+` FROM rounds WHERE auction_id = ? AND round_number = ?`, auctionID, number)
}

// GetLatestRound reads the highest-numbered round
func (r *SQLiteRepo) GetLatestRound(ctx context.Context, auctionID string) (model.Round, error) {
	return r.queryOneRound(ctx, "get latest round", auctionID,
		`SELECT `+roundColumns+` FROM rounds WHERE auction_id = ? ORDER BY round_number DESC LIMIT 1`, auctionID)
}

// ListRounds reads every round of the auction in order
func (r *SQLiteRepo) ListRounds(ctx context.Context, auctionID string) ([]model.Round, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE auction_id = ? ORDER BY round_number`, auctionID)
	if err != nil {
		return nil, sqlErr("list rounds", err)
	}
	rounds := make([]model.Round, 0)
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			rows.Close()
			return nil, sqlErr("scan round", err)
		}
		rounds = append(rounds, round)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, sqlErr("list rounds", err)
	}

	// items are loaded after the cursor is closed: the pool has a single connection
	for i := range rounds {
		if err := r.loadRoundItems(ctx, &rounds[i]); err != nil {
			return nil, err
		}
	}
	return rounds, nil
}

// FinishRound marks the round finished once; later calls keep the first end time
func (r *SQLiteRepo) FinishRound(ctx context.Context, auctionID string, number int, endedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rounds SET status = ?, ended_at = COALESCE(ended_at, ?)
		WHERE auction_id = ? AND round_number = ?`,
		string(model.StatusFinished), endedAt.UnixMilli(), auctionID, number)
	if err != nil {
		return sqlErr("finish round", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish round %d of %s: %w", number, auctionID, biddingerrors.ErrRoundNotFound)
	}
	return nil
}

// AddItems upserts catalog items, keeping the first insertion order
func (r *SQLiteRepo) AddItems(ctx context.Context, items ...model.Item) error {
	return r.withTx(ctx, "add items", func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM items`).Scan(&seq); err != nil {
			return sqlErr("add items", err)
		}
		for _, item := range items {
			if item.ItemID == "" || item.CollectionID == "" {
				return fmt.Errorf("add item: %w - missing item or collection id", biddingerrors.ErrInvalidAuction)
			}
			seq++
			_, err := tx.ExecContext(ctx, `
				INSERT INTO items (id, collection_id, title, seq) VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET collection_id = excluded.collection_id, title = excluded.title`,
				item.ItemID, item.CollectionID, item.Title, seq)
			if err != nil {
				return sqlErr("add item", err)
			}
		}
		return nil
	})
}

// ListCollectionItems reads the items of a collection in insertion order
func (r *SQLiteRepo) ListCollectionItems(ctx context.Context, collectionID string) ([]model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, collection_id, title FROM items WHERE collection_id = ? ORDER BY seq`, collectionID)
	if err != nil {
		return nil, sqlErr("list collection items", err)
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		var item model.Item
		if err := rows.Scan(&item.ItemID, &item.CollectionID, &item.Title); err != nil {
			return nil, sqlErr("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlErr("list collection items", err)
	}
	return items, nil
}

// AllocateItem inserts the ownership row; an existing row for the same owner is accepted
func (r *SQLiteRepo) AllocateItem(ctx context.Context, o model.Ownership) error {
	return r.withTx(ctx, "allocate item", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, o.ItemID).Scan(&exists); err != nil {
			return sqlErr("allocate item", err)
		}
		if exists == 0 {
			return fmt.Errorf("allocate item %s: %w", o.ItemID, biddingerrors.ErrItemNotFound)
		}

		var owner string
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM ownerships WHERE item_id = ?`, o.ItemID).Scan(&owner)
		switch {
		case err == nil && owner == o.OwnerID:
			return nil
		case err == nil:
			return fmt.Errorf("allocate item %s to %s: %w", o.ItemID, o.OwnerID, biddingerrors.ErrItemAlreadyOwned)
		case !errors.Is(err, sql.ErrNoRows):
			return sqlErr("allocate item", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ownerships (item_id, owner_id, auction_id, acquired_price, acquired_at) VALUES (?, ?, ?, ?, ?)`,
			o.ItemID, o.OwnerID, o.AuctionID, o.AcquiredPrice.String(), o.AcquiredAt.UnixMilli())
		if err != nil {
			return sqlErr("allocate item", err)
		}
		return nil
	})
}

func (r *SQLiteRepo) queryOwnerships(ctx context.Context, op, query string, args ...any) ([]model.Ownership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqlErr(op, err)
	}
	defer rows.Close()

	owned := make([]model.Ownership, 0)
	for rows.Next() {
		var (
			o          model.Ownership
			acquiredAt int64
		)
		if err := rows.Scan(&o.ItemID, &o.OwnerID, &o.AuctionID, &o.AcquiredPrice, &acquiredAt); err != nil {
			return nil, sqlErr("scan ownership", err)
		}
		o.AcquiredAt = time.UnixMilli(acquiredAt).UTC()
		owned = append(owned, o)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlErr(op, err)
	}
	return owned, nil
}

// ListOwnerships reads the owned items of a collection
func (r *SQLiteRepo) ListOwnerships(ctx context.Context, collectionID string) ([]model.Ownership, error) {
	return r.queryOwnerships(ctx, "list ownerships", `
		SELECT o.item_id, o.owner_id, o.auction_id, o.acquired_price, o.acquired_at
		FROM ownerships o JOIN items i ON i.id = o.item_id
		WHERE i.collection_id = ? ORDER BY i.seq`, collectionID)
}

// ListOwnershipsByUser reads every item the user acquired
func (r *SQLiteRepo) ListOwnershipsByUser(ctx context.Context, userID string) ([]model.Ownership, error) {
	return r.queryOwnerships(ctx, "list ownerships by user", `
		SELECT o.item_id, o.owner_id, o.auction_id, o.acquired_price, o.acquired_at
		FROM ownerships o JOIN items i ON i.id = o.item_id
		WHERE o.owner_id = ? ORDER BY i.seq`, userID)
}

func getBalance(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, sqlErr("get balance", err)
	}
	return balance, nil
}

// GetBalance reads the wallet balance; unknown users have a zero balance
func (r *SQLiteRepo) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return getBalance(ctx, r.db, userID)
}

// Deposit credits a wallet and returns the new balance
func (r *SQLiteRepo) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deposit for %s: %w - non-positive amount", userID, biddingerrors.ErrInvalidBid)
	}
	var balance decimal.Decimal
	err := r.withTx(ctx, "deposit", func(tx *sql.Tx) error {
		current, err := getBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		balance = current.Add(amount)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance) VALUES (?, ?)
			ON CONFLICT (user_id) DO UPDATE SET balance = excluded.balance`, userID, balance.String())
		if err != nil {
			return sqlErr("deposit", err)
		}
		return nil
	})
	return balance, err
}

// Charge deducts amount once per (user, auction) inside one transaction
func (r *SQLiteRepo) Charge(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error {
	return r.withTx(ctx, "charge", func(tx *sql.Tx) error {
		var charged int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM wallet_charges WHERE user_id = ? AND auction_id = ?`, userID, auctionID).Scan(&charged)
		if err != nil {
			return sqlErr("charge", err)
		}
		if charged > 0 {
			return nil
		}

		balance, err := getBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("charge %s for %s: %w", amount, userID, biddingerrors.ErrInsufficientBalance)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallets SET balance = ? WHERE user_id = ?`, balance.Sub(amount).String(), userID); err != nil {
			return sqlErr("charge", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_charges (user_id, auction_id, amount) VALUES (?, ?, ?)`,
			userID, auctionID, amount.String()); err != nil {
			return sqlErr("charge", err)
		}
		return nil
	})
}
