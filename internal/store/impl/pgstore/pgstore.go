package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"
	hashids "github.com/speps/go-hashids/v2"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/store"
	"nuha.dev/runtracker/internal/tracker"
)

const Schema = `
CREATE TABLE IF NOT EXISTS run (
	id              BIGSERIAL PRIMARY KEY,
	session_id      TEXT NOT NULL UNIQUE,
	started_at      TIMESTAMPTZ NOT NULL,
	stopped_at      TIMESTAMPTZ NOT NULL,
	distance_km     DOUBLE PRECISION NOT NULL,
	duration_sec    INTEGER NOT NULL,
	pace_min_per_km DOUBLE PRECISION NOT NULL,
	calories        DOUBLE PRECISION NOT NULL,
	points          INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_point (
	run_id    BIGINT NOT NULL REFERENCES run(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	gps_time  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS run_started_at_idx ON run (started_at DESC);
`

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var routeColumns = []string{"run_id", "seq", "latitude", "longitude", "gps_time"}

type StoreConfig struct {
	HashSalt      string
	HashMinLength int
}

type Store struct {
	config *StoreConfig
	db     DB
	hid    *hashids.HashID
	log    log.Logger
	table  string
}

func NewStore(db DB, config *StoreConfig) (*Store, error) {
	o := &Store{}
	o.config = config
	o.db = db
	o.table = "run_point"
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	hid, err := newHashID(config)
	if err != nil {
		return nil, err
	}
	o.hid = hid
	return o, nil
}

func newHashID(config *StoreConfig) (*hashids.HashID, error) {
	hd := hashids.NewData()
	hd.Salt = config.HashSalt
	hd.MinLength = config.HashMinLength
	return hashids.NewWithData(hd)
}

func (st *Store) encodeId(id int64) (string, error) {
	return st.hid.EncodeInt64([]int64{id})
}

func (st *Store) decodeId(s string) (int64, error) {
	ids, err := st.hid.DecodeInt64WithError(s)
	if err != nil || len(ids) != 1 {
		return 0, store.ErrNotFound
	}
	return ids[0], nil
}

// Put stores the run row and copies its route in one transaction.
func (st *Store) Put(ctx context.Context, s tracker.Session) (string, error) {
	t1 := time.Now()
	tx, err := st.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO run (session_id,started_at,stopped_at,distance_km,duration_sec,pace_min_per_km,calories,points)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		s.ID, s.StartedAt, s.StoppedAt, s.Stats.DistanceKm, s.Stats.DurationSec, s.Stats.PaceMinPerKm, s.Stats.CaloriesEstimate, len(s.Route)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", store.ErrDuplicate
		}
		return "", fmt.Errorf("inserting run: %w", err)
	}

	route := s.Route
	_, err = tx.CopyFrom(ctx, pgx.Identifier{st.table}, routeColumns, routeRows(id, route))
	if err != nil {
		return "", fmt.Errorf("copying route: %w", err)
	}
	err = tx.Commit(ctx)
	if err != nil {
		return "", err
	}
	st.log.Debug().Str("action", "put").Str("session", s.ID).Int("length", len(route)).Dur("time_taken", time.Since(t1)).Msg("run stored")
	return st.encodeId(id)
}

// routeRows yields the route points of run id in sequence order.
func routeRows(id int64, route geo.Route) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(route), func(i int) ([]interface{}, error) {
		p := route[i]
		return []interface{}{id, i, p.Latitude, p.Longitude, p.Timestamp}, nil
	})
}

func (st *Store) Get(ctx context.Context, pid string) (*store.RunRecord, error) {
	id, err := st.decodeId(pid)
	if err != nil {
		return nil, err
	}
	rec := &store.RunRecord{}
	rec.Id = pid
	err = st.db.QueryRow(ctx, `SELECT session_id,started_at,stopped_at,distance_km,duration_sec,pace_min_per_km,calories,points FROM run WHERE id = $1`, id).
		Scan(&rec.SessionId, &rec.StartedAt, &rec.StoppedAt, &rec.Stats.DistanceKm, &rec.Stats.DurationSec, &rec.Stats.PaceMinPerKm, &rec.Stats.CaloriesEstimate, &rec.Points)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := st.db.Query(ctx, `SELECT latitude,longitude,gps_time FROM run_point WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rec.Route = make(geo.Route, 0, rec.Points)
	for rows.Next() {
		p := geo.Point{}
		err := rows.Scan(&p.Latitude, &p.Longitude, &p.Timestamp)
		if err != nil {
			return nil, err
		}
		rec.Route = append(rec.Route, p)
	}
	return rec, rows.Err()
}

func (st *Store) List(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := st.db.Query(ctx, `SELECT id,session_id,started_at,stopped_at,distance_km,duration_sec,pace_min_per_km,calories,points FROM run ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := make([]store.RunSummary, 0)
	for rows.Next() {
		var id int64
		r := store.RunSummary{}
		err := rows.Scan(&id, &r.SessionId, &r.StartedAt, &r.StoppedAt, &r.Stats.DistanceKm, &r.Stats.DurationSec, &r.Stats.PaceMinPerKm, &r.Stats.CaloriesEstimate, &r.Points)
		if err != nil {
			return nil, err
		}
		r.Id, err = st.encodeId(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Delete removes the run, its route goes with it through the cascade.
func (st *Store) Delete(ctx context.Context, pid string) error {
	id, err := st.decodeId(pid)
	if err != nil {
		return err
	}
	tag, err := st.db.Exec(ctx, `DELETE FROM run WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	st.log.Debug().Str("action", "delete").Str("id", pid).Msg("run deleted")
	return nil
}

func (st *Store) Clear(ctx context.Context) (int, error) {
	tag, err := st.db.Exec(ctx, `DELETE FROM run`)
	if err != nil {
		return 0, err
	}
	n := int(tag.RowsAffected())
	st.log.Info().Str("action", "clear").Int("count", n).Msg("history cleared")
	return n, nil
}

// Init creates the tables when missing.
func Init(ctx context.Context, db DB) error {
	_, err := db.Exec(ctx, Schema)
	return err
}
