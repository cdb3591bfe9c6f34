package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "tagtimer/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetNation(ctx context.Context, name string) (Nation, error) {
	n := Nation{Name: NormalizeName(name)}
	err := s.db.QueryRowContext(ctx, `SELECT idx, region FROM nations WHERE name = ?`, n.Name).Scan(&n.Index, &n.Region)
	if errors.Is(err, sql.ErrNoRows) {
		return Nation{}, fmt.Errorf("nation %q: %w", n.Name, ErrNotFound)
	}
	if err != nil {
		return Nation{}, err
	}
	return n, nil
}

const regionColumns = `r.name, r.first_nation, COALESCE(n.idx, 0), r.num_nations, r.passworded, r.founderless,
	r.delegate, r.founder, r.delegate_votes, r.last_update`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegion(row rowScanner) (Region, error) {
	var (
		r          Region
		pw, fl     int
		lastUpdate int64
	)
	if err := row.Scan(&r.Name, &r.FirstNation, &r.FirstIndex, &r.NumNations, &pw, &fl,
		&r.Delegate, &r.Founder, &r.DelegateVotes, &lastUpdate); err != nil {
		return Region{}, err
	}
	r.Passworded = pw != 0
	r.Founderless = fl != 0
	if lastUpdate > 0 {
		r.LastUpdate = time.Unix(lastUpdate, 0)
	}
	return r, nil
}

func (s *sqliteStore) GetRegion(ctx context.Context, name string) (Region, error) {
	key := NormalizeName(name)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+regionColumns+` FROM regions r LEFT JOIN nations n ON n.name = r.first_nation WHERE r.name = ?`, key)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Region{}, fmt.Errorf("region %q: %w", key, ErrNotFound)
	}
	return r, err
}

func (s *sqliteStore) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

func (s *sqliteStore) CountNations(ctx context.Context) (int, error) { return s.count(ctx, "nations") }
func (s *sqliteStore) CountRegions(ctx context.Context) (int, error) { return s.count(ctx, "regions") }

func (s *sqliteStore) ListRegions(ctx context.Context, limit int) ([]Region, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+regionColumns+` FROM regions r LEFT JOIN nations n ON n.name = r.first_nation
		 ORDER BY n.idx IS NULL, n.idx, r.name LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ReplaceWorld(ctx context.Context, w World) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM nations`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM regions`); err != nil {
		return err
	}

	insN, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO nations(name, idx, region) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer insN.Close()
	for _, n := range w.Nations {
		if _, err = insN.ExecContext(ctx, NormalizeName(n.Name), n.Index, NormalizeName(n.Region)); err != nil {
			return fmt.Errorf("insert nation %q: %w", n.Name, err)
		}
	}

	insR, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO regions(name, first_nation, num_nations, passworded, founderless, delegate, founder, delegate_votes, last_update)
		 VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insR.Close()
	for _, r := range w.Regions {
		var last int64
		if !r.LastUpdate.IsZero() {
			last = r.LastUpdate.Unix()
		}
		if _, err = insR.ExecContext(ctx,
			NormalizeName(r.Name), NormalizeName(r.FirstNation), r.NumNations,
			boolInt(r.Passworded), boolInt(r.Founderless),
			NormalizeName(r.Delegate), NormalizeName(r.Founder), r.DelegateVotes, last,
		); err != nil {
			return fmt.Errorf("insert region %q: %w", r.Name, err)
		}
	}

	at := w.IngestedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('ingested_at', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		strconv.FormatInt(at.Unix(), 10),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LastIngest(ctx context.Context) (time.Time, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'ingested_at'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("meta ingested_at: %w", err)
	}
	return time.Unix(sec, 0), true, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
