package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS minima (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	energy      REAL NOT NULL,
	coords      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS minima_energy ON minima(energy);

CREATE TABLE IF NOT EXISTS transition_states (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	energy      REAL NOT NULL,
	coords      TEXT NOT NULL,
	eigenvalue  REAL NOT NULL,
	eigenvector TEXT,
	minimum1    INTEGER REFERENCES minima(id) ON DELETE SET NULL,
	minimum2    INTEGER REFERENCES minima(id) ON DELETE SET NULL,
	created_at  TEXT NOT NULL
);
`

// Minimum is a catalogued local minimum
type Minimum struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId"`
	Energy    float64   `json:"energy"`
	Coords    []float64 `json:"coords"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransitionState is a catalogued first-order saddle point, optionally linked to the
// two minima it connects
type TransitionState struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"runId"`
	Energy      float64   `json:"energy"`
	Coords      []float64 `json:"coords"`
	Eigenvalue  float64   `json:"eigenvalue"`
	Eigenvector []float64 `json:"eigenvector,omitempty"`
	Minimum1    *int64    `json:"minimum1,omitempty"`
	Minimum2    *int64    `json:"minimum2,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Database catalogues minima and transition states in SQLite. Minima whose energies
// agree within the accuracy are treated as the same structure. It is safe for
// concurrent use, so a single Database can back several walkers.
type Database struct {
	mu       sync.Mutex
	db       *sql.DB
	accuracy float64
	runID    string
}

// OpenDatabase opens (or creates) the database at path
func OpenDatabase(path string, accuracy float64) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	d := &Database{db: db, accuracy: accuracy, runID: uuid.New().String()}
	slog.Debug("Database opened", "path", path, "run_id", d.runID)
	return d, nil
}

// Close closes the underlying connection
func (d *Database) Close() error {
	return d.db.Close()
}

// RunID identifies the records added through this handle
func (d *Database) RunID() string {
	return d.runID
}

// Insert adds a minimum unless an equivalent one exists
func (d *Database) Insert(energy float64, x []float64) error {
	_, _, err := d.AddMinimum(energy, x)
	return err
}

// AddMinimum returns the existing minimum within accuracy of energy, or inserts a new one.
// The boolean reports whether a row was inserted.
func (d *Database) AddMinimum(energy float64, x []float64) (Minimum, bool, error) {
	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		return Minimum{}, false, &ValidationError{Field: "Energy", Reason: "must be finite"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	row := d.db.QueryRow(
		`SELECT id, run_id, energy, coords, created_at FROM minima
		 WHERE energy BETWEEN ? AND ?
		 ORDER BY abs(energy - ?) LIMIT 1`,
		energy-d.accuracy, energy+d.accuracy, energy,
	)
	existing, err := scanMinimum(row)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Minimum{}, false, fmt.Errorf("failed to look up minimum: %w", err)
	}

	coords, err := json.Marshal(x)
	if err != nil {
		return Minimum{}, false, fmt.Errorf("failed to encode coordinates: %w", err)
	}
	now := time.Now().UTC()
	res, err := d.db.Exec(
		`INSERT INTO minima (run_id, energy, coords, created_at) VALUES (?, ?, ?, ?)`,
		d.runID, energy, string(coords), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Minimum{}, false, fmt.Errorf("failed to insert minimum: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Minimum{}, false, fmt.Errorf("failed to read minimum id: %w", err)
	}

	slog.Debug("New minimum", "id", id, "energy", energy)
	return Minimum{
		ID:        id,
		RunID:     d.runID,
		Energy:    energy,
		Coords:    append([]float64(nil), x...),
		CreatedAt: now,
	}, true, nil
}

// Minimum returns the minimum with the given id
func (d *Database) Minimum(id int64) (Minimum, error) {
	row := d.db.QueryRow(`SELECT id, run_id, energy, coords, created_at FROM minima WHERE id = ?`, id)
	m, err := scanMinimum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Minimum{}, &NotFoundError{JobID: "minimum " + strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return Minimum{}, fmt.Errorf("failed to load minimum: %w", err)
	}
	return m, nil
}

// Minima returns up to limit minima in order of increasing energy; limit <= 0 returns all
func (d *Database) Minima(limit int) ([]Minimum, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT id, run_id, energy, coords, created_at FROM minima ORDER BY energy ASC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query minima: %w", err)
	}
	defer rows.Close()

	minima := []Minimum{}
	for rows.Next() {
		m, err := scanMinimum(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan minimum: %w", err)
		}
		minima = append(minima, m)
	}
	return minima, rows.Err()
}

// CountMinima returns the number of catalogued minima
func (d *Database) CountMinima() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT count(*) FROM minima`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count minima: %w", err)
	}
	return n, nil
}

// DeleteMinimaAbove removes minima with energy strictly above the cutoff and returns how many were removed
func (d *Database) DeleteMinimaAbove(cutoff float64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`DELETE FROM minima WHERE energy > ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete minima: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted minima: %w", err)
	}
	return n, nil
}

// AddTransitionState stores ts and sets its ID, RunID and CreatedAt
func (d *Database) AddTransitionState(ts *TransitionState) error {
	coords, err := json.Marshal(ts.Coords)
	if err != nil {
		return fmt.Errorf("failed to encode coordinates: %w", err)
	}
	vec, err := json.Marshal(ts.Eigenvector)
	if err != nil {
		return fmt.Errorf("failed to encode eigenvector: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	res, err := d.db.Exec(
		`INSERT INTO transition_states (run_id, energy, coords, eigenvalue, eigenvector, minimum1, minimum2, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.runID, ts.Energy, string(coords), ts.Eigenvalue, string(vec), ts.Minimum1, ts.Minimum2, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition state: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transition state id: %w", err)
	}

	ts.ID = id
	ts.RunID = d.runID
	ts.CreatedAt = now
	return nil
}

// TransitionStates returns all transition states in order of increasing energy
func (d *Database) TransitionStates() ([]TransitionState, error) {
	rows, err := d.db.Query(
		`SELECT id, run_id, energy, coords, eigenvalue, eigenvector, minimum1, minimum2, created_at
		 FROM transition_states ORDER BY energy ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition states: %w", err)
	}
	defer rows.Close()

	out := []TransitionState{}
	for rows.Next() {
		var (
			ts           TransitionState
			coords, vec  string
			m1, m2       sql.NullInt64
			createdAtStr string
		)
		if err := rows.Scan(&ts.ID, &ts.RunID, &ts.Energy, &coords, &ts.Eigenvalue, &vec, &m1, &m2, &createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan transition state: %w", err)
		}
		if err := json.Unmarshal([]byte(coords), &ts.Coords); err != nil {
			return nil, fmt.Errorf("failed to decode coordinates: %w", err)
		}
		if vec != "" && vec != "null" {
			if err := json.Unmarshal([]byte(vec), &ts.Eigenvector); err != nil {
				return nil, fmt.Errorf("failed to decode eigenvector: %w", err)
			}
		}
		if m1.Valid {
			ts.Minimum1 = &m1.Int64
		}
		if m2.Valid {
			ts.Minimum2 = &m2.Int64
		}
		ts.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, ts)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMinimum(row scanner) (Minimum, error) {
	var (
		m            Minimum
		coords       string
		createdAtStr string
	)
	if err := row.Scan(&m.ID, &m.RunID, &m.Energy, &coords, &createdAtStr); err != nil {
		return Minimum{}, err
	}
	if err := json.Unmarshal([]byte(coords), &m.Coords); err != nil {
		return Minimum{}, fmt.Errorf("failed to decode coordinates: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return m, nil
}
