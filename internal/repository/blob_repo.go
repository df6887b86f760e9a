package repository

import (
	"database/sql"
	"errors"
	"time"
)

// Store is the key-value persistence boundary used by the reference library
// and the run archive. Concurrent writers are not coordinated: the last Put
// wins.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) (bool, error)
	Keys(prefix string) ([]string, error)
}

type BlobRepo struct {
	db *sql.DB
}

func NewBlobRepo(db *sql.DB) *BlobRepo {
	return &BlobRepo{db: db}
}

func (r *BlobRepo) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRow("SELECT value FROM blobs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *BlobRepo) Put(key string, value []byte) error {
	_, err := r.db.Exec(
		`INSERT INTO blobs (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Delete reports whether the key existed.
func (r *BlobRepo) Delete(key string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM blobs WHERE key = ?", key)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Keys lists keys starting with prefix in ascending order. The prefix is
// turned into a byte range so non-ASCII prefixes compare like Go strings.
func (r *BlobRepo) Keys(prefix string) ([]string, error) {
	query, args := "SELECT key FROM blobs WHERE key >= ?", []any{prefix}
	if upper, ok := prefixUpperBound(prefix); ok {
		query += " AND key < ?"
		args = append(args, upper)
	}
	rows, err := r.db.Query(query+" ORDER BY key", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix. There is none for an empty or all-0xFF prefix.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
