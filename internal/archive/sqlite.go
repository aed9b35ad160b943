package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/summary"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
	"github.com/turtacn/telemos/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	number      INTEGER PRIMARY KEY,
	session_key TEXT NOT NULL,
	name        TEXT NOT NULL,
	host        TEXT NOT NULL,
	username    TEXT NOT NULL,
	scid        INTEGER NOT NULL,
	venue       TEXT NOT NULL,
	dss_id      INTEGER NOT NULL,
	vcid        INTEGER,
	output_dir  TEXT NOT NULL,
	sse         INTEGER NOT NULL,
	start_time  TEXT NOT NULL,
	end_time    TEXT,
	summary     TEXT
);
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	store       TEXT NOT NULL,
	session     INTEGER NOT NULL,
	type        TEXT NOT NULL,
	time        TEXT NOT NULL,
	body        TEXT
);
CREATE INDEX IF NOT EXISTS records_store ON records (store, session);
`

// SQLite is a Controller backed by a SQLite database file.
type SQLite struct {
	path string
	bus  bus.Bus
	ctx  *protocol.ContextConfig
	log  logger.Logger

	// OpenTimeout bounds the retries of Init. Zero means 5s.
	OpenTimeout time.Duration

	mu      sync.Mutex
	pool    *sqlitex.Pool
	started map[StoreID]bus.Subscription
	session bool
}

// NewSQLite creates a controller for the session described by ctx.
// Peripheral stores subscribe to b.
func NewSQLite(path string, b bus.Bus, ctx *protocol.ContextConfig) *SQLite {
	return &SQLite{
		path:    path,
		bus:     b,
		ctx:     ctx,
		log:     logger.Component("archive").With("path", path),
		started: make(map[StoreID]bus.Subscription),
	}
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Init opens the database, retrying while the file is locked or busy.
func (a *SQLite) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool != nil {
		return nil
	}

	timeout := a.OpenTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		pool, err := sqlitex.NewPool(a.path, sqlitex.PoolOptions{
			PoolSize:    4,
			PrepareConn: prepareConn,
		})
		if err != nil {
			return err
		}
		// Connections are prepared lazily; take one now so schema errors
		// surface here.
		conn, err := pool.Take(context.Background())
		if err != nil {
			pool.Close()
			return err
		}
		pool.Put(conn)
		a.pool = pool
		return nil
	}, policy)
	if err != nil {
		return errors.New(errors.ErrCodeArchive, "Init", "opening "+a.path, err)
	}
	a.log.Info("Archive opened")
	return nil
}

func (a *SQLite) exec(query string, args ...any) error {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()
	if pool == nil {
		return errors.New(errors.ErrCodeArchive, "exec", "archive not initialized", nil)
	}
	conn, err := pool.Take(context.Background())
	if err != nil {
		return errors.New(errors.ErrCodeArchive, "exec", "take connection", err)
	}
	defer pool.Put(conn)
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (a *SQLite) StartAllStores() error {
	return a.StartStores(AllStores(a.ctx.Sse)...)
}

func (a *SQLite) StartStores(ids ...StoreID) error {
	if err := a.startSessionStore(); err != nil {
		return err
	}
	for _, id := range ids {
		if id == StoreSession {
			continue
		}
		if err := a.startPeripheral(id); err != nil {
			return err
		}
	}
	return nil
}

func (a *SQLite) startSessionStore() error {
	a.mu.Lock()
	done := a.session
	a.mu.Unlock()
	if done {
		return nil
	}

	c := a.ctx
	var vcid any
	if c.Vcid != nil {
		vcid = int64(*c.Vcid)
	}
	start := c.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	err := a.exec(`INSERT OR REPLACE INTO sessions
		(number, session_key, name, host, username, scid, venue, dss_id, vcid, output_dir, sse, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Number, c.Key, c.Name, c.Host, c.User, int64(c.SpacecraftID), c.Venue, int64(c.DssID), vcid,
		c.OutputDir, boolInt(c.Sse), formatTime(start))
	if err != nil {
		return errors.New(errors.ErrCodeArchive, "StartStores", "inserting session row", err)
	}

	a.mu.Lock()
	a.session = true
	a.mu.Unlock()
	a.log.Debug("Session store started", "session", c.Number)
	return nil
}

func (a *SQLite) startPeripheral(id StoreID) error {
	t, ok := storeSources[id]
	if !ok {
		return errors.New(errors.ErrCodeArchive, "StartStores", "unknown store "+string(id), nil)
	}
	a.mu.Lock()
	_, running := a.started[id]
	a.mu.Unlock()
	if running {
		return nil
	}
	if a.bus == nil {
		return errors.New(errors.ErrCodeArchive, "StartStores", "no message bus for "+string(id), nil)
	}

	sub, err := a.bus.Subscribe(t, func(m bus.Message) { a.record(id, m) })
	if err != nil {
		return errors.New(errors.ErrCodeArchive, "StartStores", "subscribing "+string(id), err)
	}
	a.mu.Lock()
	a.started[id] = sub
	a.mu.Unlock()
	a.log.Debug("Store started", "store", id)
	return nil
}

func (a *SQLite) record(id StoreID, m bus.Message) {
	var body any
	if len(m.Body) > 0 {
		data, err := json.Marshal(m.Body)
		if err != nil {
			a.log.Warn("Record body not serializable", "store", id, "err", err)
		} else {
			body = string(data)
		}
	}
	if err := a.exec(`INSERT INTO records (store, session, type, time, body) VALUES (?, ?, ?, ?, ?)`,
		string(id), a.ctx.Number, string(m.Type), formatTime(m.Time), body); err != nil {
		a.log.Warn("Record not archived", "store", id, "err", err)
	}
}

func (a *SQLite) StopPeripheralStores() {
	a.mu.Lock()
	subs := a.started
	a.started = make(map[StoreID]bus.Subscription)
	a.mu.Unlock()
	for id, sub := range subs {
		sub.Unsubscribe()
		a.log.Debug("Store stopped", "store", id)
	}
}

func (a *SQLite) UpdateSessionEndTime(ctx *protocol.ContextConfig, s *summary.Summary) error {
	if ctx == nil {
		return errors.New(errors.ErrCodeArchive, "UpdateSessionEndTime", "no session context", nil)
	}
	var counts any
	if s != nil {
		data, err := json.Marshal(s.Counts())
		if err != nil {
			return errors.New(errors.ErrCodeArchive, "UpdateSessionEndTime", "encoding summary", err)
		}
		counts = string(data)
	}
	end := ctx.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	if err := a.exec(`UPDATE sessions SET end_time = ?, summary = ? WHERE number = ?`,
		formatTime(end), counts, ctx.Number); err != nil {
		return errors.New(errors.ErrCodeArchive, "UpdateSessionEndTime", "updating session row", err)
	}
	return nil
}

// ShutDown stops every store and closes the database. Idempotent.
func (a *SQLite) ShutDown() {
	a.StopPeripheralStores()
	a.mu.Lock()
	pool := a.pool
	a.pool = nil
	a.session = false
	a.mu.Unlock()
	if pool == nil {
		return
	}
	if err := pool.Close(); err != nil {
		a.log.Warn("Archive close failed", "err", err)
		return
	}
	a.log.Info("Archive closed")
}

// Running lists the peripheral stores currently recording.
func (a *SQLite) Running() []StoreID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StoreID, 0, len(a.started))
	for id := range a.started {
		out = append(out, id)
	}
	return out
}

// CountRecords returns how many rows store holds for the session.
func (a *SQLite) CountRecords(id StoreID) (int, error) {
	var n int
	err := a.query(`SELECT count(*) FROM records WHERE store = ? AND session = ?`,
		func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt(0)
			return nil
		}, string(id), a.ctx.Number)
	return n, err
}

// SessionEndTime returns the stored end time and summary of a session.
func (a *SQLite) SessionEndTime(number int64) (string, string, error) {
	var end, counts string
	err := a.query(`SELECT coalesce(end_time, ''), coalesce(summary, '') FROM sessions WHERE number = ?`,
		func(stmt *sqlite.Stmt) error {
			end = stmt.ColumnText(0)
			counts = stmt.ColumnText(1)
			return nil
		}, number)
	return end, counts, err
}

func (a *SQLite) query(q string, fn func(*sqlite.Stmt) error, args ...any) error {
	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()
	if pool == nil {
		return errors.New(errors.ErrCodeArchive, "query", "archive not initialized", nil)
	}
	conn, err := pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer pool.Put(conn)
	return sqlitex.Execute(conn, q, &sqlitex.ExecOptions{Args: args, ResultFunc: fn})
}

// Personal.AI order the ending
