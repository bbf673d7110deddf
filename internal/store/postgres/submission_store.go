package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// SubmissionStore implements domain.SubmissionStore using PostgreSQL.
type SubmissionStore struct {
	pool *pgxpool.Pool
}

// NewSubmissionStore creates a SubmissionStore backed by the given pool.
func NewSubmissionStore(pool *pgxpool.Pool) *SubmissionStore {
	return &SubmissionStore{pool: pool}
}

// fee_per_gas is NUMERIC(78,0); it crosses the wire as text to keep uint256
// precision.
const submissionSelectCols = `SELECT id, source_hash, strategy, to_address, data,
	fee_per_gas::text, gas_limit, tx_hash, nonce, status, error, created_at, completed_at
	FROM submissions`

// Create inserts sub. Re-recording the same action id updates its outcome.
func (s *SubmissionStore) Create(ctx context.Context, sub domain.Submission) error {
	const query = `
		INSERT INTO submissions (
			id, source_hash, strategy, to_address, data,
			fee_per_gas, gas_limit, tx_hash, nonce,
			status, error, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7, $8, $9,
			$10, $11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			nonce = EXCLUDED.nonce,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`

	var fee *string
	if sub.FeePerGas != nil {
		v := sub.FeePerGas.String()
		fee = &v
	}
	var txHash *string
	if sub.TxHash != nil {
		v := sub.TxHash.Hex()
		txHash = &v
	}
	var nonce *int64
	if sub.Nonce != nil {
		v := int64(*sub.Nonce)
		nonce = &v
	}
	data := sub.Data
	if data == nil {
		data = []byte{}
	}

	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.SourceHash.Hex(), sub.Strategy, sub.To.Hex(), data,
		fee, int64(sub.GasLimit), txHash, nonce,
		string(sub.Status), sub.Error, sub.CreatedAt, sub.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create submission %s: %w", sub.ID, err)
	}
	return nil
}

// GetByID returns one submission or domain.ErrNotFound.
func (s *SubmissionStore) GetByID(ctx context.Context, id string) (domain.Submission, error) {
	rows, err := s.pool.Query(ctx, submissionSelectCols+` WHERE id = $1`, id)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("postgres: get submission %s: %w", id, err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubmission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Submission{}, domain.ErrNotFound
		}
		return domain.Submission{}, fmt.Errorf("postgres: get submission %s: %w", id, err)
	}
	return sub, nil
}

// ListRecent returns submissions newest first.
func (s *SubmissionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Submission, error) {
	query, args := listQuery(submissionSelectCols, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions: %w", err)
	}
	subs, err := pgx.CollectRows(rows, scanSubmission)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions: %w", err)
	}
	return subs, nil
}

// ListBefore returns every submission created before the cutoff, oldest first.
func (s *SubmissionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Submission, error) {
	rows, err := s.pool.Query(ctx,
		submissionSelectCols+` WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions before %s: %w", before.Format(time.RFC3339), err)
	}
	subs, err := pgx.CollectRows(rows, scanSubmission)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions before: %w", err)
	}
	return subs, nil
}

// DeleteBefore removes submissions created before the cutoff.
func (s *SubmissionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete submissions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns the number of stored submissions per status.
func (s *SubmissionStore) CountByStatus(ctx context.Context) (map[domain.SubmissionStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SubmissionStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan submission count: %w", err)
		}
		counts[domain.SubmissionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count submissions rows: %w", err)
	}
	return counts, nil
}

func scanSubmission(row pgx.CollectableRow) (domain.Submission, error) {
	var (
		sub        domain.Submission
		sourceHash string
		to         string
		fee        *string
		gasLimit   int64
		txHash     *string
		nonce      *int64
		status     string
	)
	if err := row.Scan(
		&sub.ID, &sourceHash, &sub.Strategy, &to, &sub.Data,
		&fee, &gasLimit, &txHash, &nonce, &status, &sub.Error,
		&sub.CreatedAt, &sub.CompletedAt,
	); err != nil {
		return domain.Submission{}, err
	}

	sub.SourceHash = common.HexToHash(sourceHash)
	sub.To = common.HexToAddress(to)
	sub.GasLimit = uint64(gasLimit)
	sub.Status = domain.SubmissionStatus(status)
	if fee != nil {
		v, ok := new(big.Int).SetString(*fee, 10)
		if !ok {
			return domain.Submission{}, fmt.Errorf("invalid fee_per_gas %q", *fee)
		}
		sub.FeePerGas = v
	}
	if txHash != nil {
		h := common.HexToHash(*txHash)
		sub.TxHash = &h
	}
	if nonce != nil {
		n := uint64(*nonce)
		sub.Nonce = &n
	}
	return sub, nil
}

var _ domain.SubmissionStore = (*SubmissionStore)(nil)
