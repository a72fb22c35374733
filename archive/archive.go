// Package archive persists terminal transaction records to Postgres.
// The archive is optional: the router only constructs one when a
// database URL is configured, and a write failure never blocks the
// transfer lifecycle.
package archive

import (
	"context"
	"database/sql"

	"github.com/Kuzirashi/nxtp/common/types"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

var (
	ErrDatabaseConnect = errors.New("failed to connect to database")
	ErrRecordNotFound  = errors.New("record not found")
)

type Archive struct {
	dbConnStr string
}

// NewArchive creates a new Archive instance with the provided connection string.
//
// Parameters:
// - connStr: the Postgres connection string.
//
// Returns:
// - *Archive: a pointer to the newly created Archive instance.
// - error: an error if the connection string is empty.
func NewArchive(connStr string) (*Archive, error) {
	if connStr == "" {
		return nil, errors.New("database connection string is empty")
	}
	return &Archive{
		dbConnStr: connStr,
	}, nil
}

// EnsureSchema creates the transfers table if it does not exist yet.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - error: an error if the database operation fails.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	db, err := sql.Open("postgres", a.dbConnStr)
	if err != nil {
		return ErrDatabaseConnect
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
       CREATE TABLE IF NOT EXISTS transfers (
           transaction_id       TEXT NOT NULL,
           side                 TEXT NOT NULL,
           status               TEXT NOT NULL,
           user_address         TEXT NOT NULL,
           router_address       TEXT NOT NULL,
           sending_chain_id     BIGINT NOT NULL,
           sending_asset_id     TEXT NOT NULL,
           receiving_chain_id   BIGINT NOT NULL,
           receiving_asset_id   TEXT NOT NULL,
           amount               TEXT NOT NULL,
           expiry               BIGINT NOT NULL,
           prepared_block       BIGINT NOT NULL,
           prepared_at          BIGINT NOT NULL,
           archived_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
           PRIMARY KEY (transaction_id, side)
       )`)
	if err != nil {
		return errors.Wrap(err, "failed to create transfers table")
	}

	return nil
}

// SaveRecord inserts or updates a terminal transaction record.
// Re-archiving the same transaction side overwrites the previous row, so
// a transfer that was fulfilled after a crash-recovery replay keeps its
// final status.
//
// Parameters:
// - ctx: the context for managing the request.
// - side: "sender" or "receiver", the side of the transfer this record tracks.
// - record: the transaction record to persist.
//
// Returns:
// - error: an error if the database operation fails.
func (a *Archive) SaveRecord(ctx context.Context, side string, record *types.TransactionRecord) error {
	db, err := sql.Open("postgres", a.dbConnStr)
	if err != nil {
		return ErrDatabaseConnect
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
       INSERT INTO transfers (
           transaction_id,
           side,
           status,
           user_address,
           router_address,
           sending_chain_id,
           sending_asset_id,
           receiving_chain_id,
           receiving_asset_id,
           amount,
           expiry,
           prepared_block,
           prepared_at
       ) VALUES (
           $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
       )
       ON CONFLICT (transaction_id, side)
       DO UPDATE SET status = EXCLUDED.status, archived_at = NOW()`,
		record.Invariant.TransactionID,
		side,
		string(record.Status),
		record.Invariant.User,
		record.Invariant.Router,
		uint64(record.Invariant.SendingChainID),
		record.Invariant.SendingAssetID,
		uint64(record.Invariant.ReceivingChainID),
		record.Invariant.ReceivingAssetID,
		record.Variant.Amount.String(),
		record.Variant.Expiry,
		record.Variant.PreparedBlockNumber,
		record.PreparedTimestamp,
	)
	if err != nil {
		return errors.Wrap(err, "failed to archive transaction record")
	}

	return nil
}

// TransferRow is one archived record as returned by history queries.
type TransferRow struct {
	TransactionID    string `json:"transactionId"`
	Side             string `json:"side"`
	Status           string `json:"status"`
	User             string `json:"user"`
	SendingChainID   uint64 `json:"sendingChainId"`
	ReceivingChainID uint64 `json:"receivingChainId"`
	Amount           string `json:"amount"`
	Expiry           uint64 `json:"expiry"`
}

// RecentTransfers returns the most recently archived records, newest first.
//
// Parameters:
// - ctx: the context for managing the request.
// - limit: the maximum number of rows to return.
//
// Returns:
// - []TransferRow: the archived records.
// - error: an error if the database operation fails.
func (a *Archive) RecentTransfers(ctx context.Context, limit int) ([]TransferRow, error) {
	db, err := sql.Open("postgres", a.dbConnStr)
	if err != nil {
		return nil, ErrDatabaseConnect
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
       SELECT transaction_id, side, status, user_address,
              sending_chain_id, receiving_chain_id, amount, expiry
       FROM transfers
       ORDER BY archived_at DESC
       LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transfers")
	}
	defer rows.Close()

	var transfers []TransferRow
	for rows.Next() {
		var row TransferRow
		if err := rows.Scan(
			&row.TransactionID,
			&row.Side,
			&row.Status,
			&row.User,
			&row.SendingChainID,
			&row.ReceivingChainID,
			&row.Amount,
			&row.Expiry,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan transfer row")
		}
		transfers = append(transfers, row)
	}

	return transfers, rows.Err()
}

// GetTransfer returns both archived sides of a transaction, if present.
//
// Parameters:
// - ctx: the context for managing the request.
// - transactionID: the transaction ID to look up.
//
// Returns:
// - []TransferRow: the archived rows for the transaction.
// - error: ErrRecordNotFound if no rows exist, or an error if the query fails.
func (a *Archive) GetTransfer(ctx context.Context, transactionID string) ([]TransferRow, error) {
	db, err := sql.Open("postgres", a.dbConnStr)
	if err != nil {
		return nil, ErrDatabaseConnect
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
       SELECT transaction_id, side, status, user_address,
              sending_chain_id, receiving_chain_id, amount, expiry
       FROM transfers
       WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transfer")
	}
	defer rows.Close()

	var transfers []TransferRow
	for rows.Next() {
		var row TransferRow
		if err := rows.Scan(
			&row.TransactionID,
			&row.Side,
			&row.Status,
			&row.User,
			&row.SendingChainID,
			&row.ReceivingChainID,
			&row.Amount,
			&row.Expiry,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan transfer row")
		}
		transfers = append(transfers, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(transfers) == 0 {
		return nil, ErrRecordNotFound
	}
	return transfers, nil
}
