package replay

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store persists round trips in SQLite so the report pipeline can read
// them without re-running the backtest.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) a round-trip database at dbPath
// with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS round_trips (
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			open_date TEXT NOT NULL,
			open_price REAL NOT NULL,
			sizer_percent REAL NOT NULL,
			stop_diff REAL NOT NULL,
			close_date TEXT,
			close_price REAL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create round_trips table: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveAll writes the given round trips in one transaction, replacing any
// previous rows for the same strategy.
func (s *Store) SaveAll(ctx context.Context, strategy string, trips []*RoundTrip) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM round_trips WHERE strategy = ?", strategy); err != nil {
		return fmt.Errorf("clear old round trips: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO round_trips
			(strategy, symbol, open_date, open_price, sizer_percent, stop_diff, close_date, close_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, trip := range trips {
		var closeDate sql.NullString
		var closePrice sql.NullFloat64
		if trip.Closed() {
			closeDate = sql.NullString{String: trip.CloseDate.Format(dateLayout), Valid: true}
			closePrice = sql.NullFloat64{Float64: trip.ClosePrice, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			trip.Strategy, trip.Symbol,
			trip.OpenDate.Format(dateLayout), trip.OpenPrice,
			trip.SizerPercent, trip.StopDiff,
			closeDate, closePrice,
		)
		if err != nil {
			return fmt.Errorf("insert round trip %s/%s: %w", trip.Strategy, trip.Symbol, err)
		}
	}

	return tx.Commit()
}

// Load reads back all round trips for one strategy, sorted by open date.
func (s *Store) Load(ctx context.Context, strategy string) ([]*RoundTrip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, symbol, open_date, open_price, sizer_percent, stop_diff, close_date, close_price
		FROM round_trips WHERE strategy = ? ORDER BY open_date, symbol
	`, strategy)
	if err != nil {
		return nil, fmt.Errorf("query round trips: %w", err)
	}
	defer rows.Close()

	var trips []*RoundTrip
	for rows.Next() {
		var trip RoundTrip
		var openDate string
		var closeDate sql.NullString
		var closePrice sql.NullFloat64
		err := rows.Scan(&trip.Strategy, &trip.Symbol, &openDate, &trip.OpenPrice,
			&trip.SizerPercent, &trip.StopDiff, &closeDate, &closePrice)
		if err != nil {
			return nil, fmt.Errorf("scan round trip: %w", err)
		}
		if trip.OpenDate, err = time.Parse(dateLayout, openDate); err != nil {
			return nil, fmt.Errorf("parse open date %q: %w", openDate, err)
		}
		if closeDate.Valid {
			if trip.CloseDate, err = time.Parse(dateLayout, closeDate.String); err != nil {
				return nil, fmt.Errorf("parse close date %q: %w", closeDate.String, err)
			}
			trip.ClosePrice = closePrice.Float64
		}
		trips = append(trips, &trip)
	}
	return trips, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
