package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Insert stores the run and its invoice files in one transaction.
func (r *RunRepo) Insert(run *domain.Run, files []domain.InvoiceFile) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var period any
	if run.Period != nil {
		period = run.Period.Key()
	}
	if _, err := tx.Exec(
		`INSERT INTO runs
		(id, carrier, period, file_count, line_count, matched, unmatched, to_recover, degraded, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Carrier, period, run.FileCount, run.LineCount, run.Matched,
		run.Unmatched, run.ToRecover.String(), run.Degraded, run.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO invoice_files
		(hash, run_id, carrier, name, shipments, ingested_at)
		VALUES (?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range files {
		f := &files[i]
		if _, err := stmt.Exec(
			f.Hash, run.ID, f.Carrier, f.Name, f.Shipments, f.IngestedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("insert file %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FileExistsByHash checks whether an invoice with the given content hash has
// already been reconciled.
func (r *RunRepo) FileExistsByHash(hash string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM invoice_files WHERE hash = ?", hash,
	).Scan(&count)
	return count > 0, err
}

func (r *RunRepo) Files(runID string) ([]domain.InvoiceFile, error) {
	rows, err := r.db.Query(
		`SELECT hash, run_id, carrier, name, shipments, ingested_at
		FROM invoice_files WHERE run_id = ? ORDER BY ingested_at, name`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.InvoiceFile
	for rows.Next() {
		var f domain.InvoiceFile
		var ingestedAt string
		if err := rows.Scan(&f.Hash, &f.RunID, &f.Carrier, &f.Name, &f.Shipments, &ingestedAt); err != nil {
			return nil, err
		}
		f.IngestedAt, _ = time.Parse(time.RFC3339, ingestedAt)
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *RunRepo) GetByID(id string) (*domain.Run, error) {
	rows, err := r.db.Query(selectRuns+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

type RunFilter struct {
	Carrier string
	Period  string
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}

func (r *RunRepo) List(f RunFilter) ([]domain.Run, int, error) {
	where, args := buildRunWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := selectRuns + where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	return runs, total, err
}

// --- helpers ---

const selectRuns = `SELECT id, carrier, period, file_count, line_count, matched,
	unmatched, to_recover, degraded, created_at FROM runs`

func buildRunWhere(f RunFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Carrier != "" {
		clauses = append(clauses, "carrier = ?")
		args = append(args, f.Carrier)
	}
	if f.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period)
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanRuns(rows *sql.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var period sql.NullString
		var toRecover, createdAt string

		err := rows.Scan(
			&run.ID, &run.Carrier, &period, &run.FileCount, &run.LineCount,
			&run.Matched, &run.Unmatched, &toRecover, &run.Degraded, &createdAt,
		)
		if err != nil {
			return nil, err
		}

		if period.Valid {
			if p, err := domain.ParsePeriodKey(period.String); err == nil {
				run.Period = &p
			}
		}
		run.ToRecover, err = decimal.NewFromString(toRecover)
		if err != nil {
			return nil, fmt.Errorf("run %s: to_recover: %w", run.ID, err)
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		runs = append(runs, run)
	}
	return runs, rows.Err()
}
