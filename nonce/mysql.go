package nonce

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore shares one nonce space across facilitator instances. The
// atomic consume is a single conditional DELETE. Expected schema:
//
//	CREATE TABLE offer_nonces (
//	    route_key  VARCHAR(255) NOT NULL,
//	    nonce      CHAR(66)     NOT NULL,
//	    expires_at BIGINT       NOT NULL,
//	    PRIMARY KEY (route_key, nonce),
//	    KEY idx_expires_at (expires_at)
//	);
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an existing connection pool.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OpenMySQLStore opens a pool for the DSN and wraps it.
func OpenMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening nonce store: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Put(routeKey string, n Nonce, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO offer_nonces (route_key, nonce, expires_at) VALUES (?, ?, ?)",
		routeKey, string(n), expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording nonce: %w", err)
	}
	return nil
}

func (s *MySQLStore) Delete(routeKey string, n Nonce, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		"DELETE FROM offer_nonces WHERE route_key = ? AND nonce = ? AND expires_at > ?",
		routeKey, string(n), now.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("consuming nonce: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming nonce: %w", err)
	}
	return affected == 1, nil
}

func (s *MySQLStore) Get(routeKey string, n Nonce, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM offer_nonces WHERE route_key = ? AND nonce = ? AND expires_at > ?",
		routeKey, string(n), now.Unix(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking nonce: %w", err)
	}
	return true, nil
}

func (s *MySQLStore) Sweep(now time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM offer_nonces WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sweeping nonces: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweeping nonces: %w", err)
	}
	return int(affected), nil
}
