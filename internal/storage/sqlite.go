package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// SQLite primary result codes that mean the caller lacks access.
const (
	sqlitePerm     = 3
	sqliteReadOnly = 8
)

// sqliteRow is the Raw payload for reads from a SQLite disk.
type sqliteRow struct {
	Location    string
	Size        int64
	ContentType string
	Modified    time.Time
}

// SQLiteStorage implements Storage with file contents stored as BLOBs in a
// single SQLite database. It suits small files and embedded deployments.
type SQLiteStorage struct {
	db   *sql.DB
	urls gatewayURLs
}

// NewSQLiteStorage opens (or creates) the database at cfg.DSN, applies
// performance PRAGMAs and creates the objects table.
func NewSQLiteStorage(cfg config.DiskConfig) (*SQLiteStorage, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sqlite: dsn is required")
	}
	if cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}
	if cfg.DSN == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStorage{db: db, urls: newGatewayURLs(DriverSQLite, cfg)}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	slog.Info("sqlite disk initialized", "dsn", cfg.DSN, "signed_urls", s.urls.signer != nil)
	return s, nil
}

// initDB applies PRAGMAs and creates the required table.
func (s *SQLiteStorage) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS objects (
			location     TEXT    NOT NULL PRIMARY KEY,
			data         BLOB    NOT NULL,
			size         INTEGER NOT NULL,
			content_type TEXT    NOT NULL DEFAULT '',
			modified     INTEGER NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database answers a trivial query.
func (s *SQLiteStorage) HealthCheck(ctx context.Context) error {
	var n int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&n)
}

// Driver implements Storage.
func (s *SQLiteStorage) Driver() string { return DriverSQLite }

func (s *SQLiteStorage) stat(ctx context.Context, location string) (*sqliteRow, error) {
	row := &sqliteRow{Location: location}
	var modified int64
	err := s.db.QueryRowContext(ctx,
		`SELECT size, content_type, modified FROM objects WHERE location = ?`,
		location,
	).Scan(&row.Size, &row.ContentType, &modified)
	if err != nil {
		return nil, err
	}
	row.Modified = time.Unix(0, modified).UTC()
	return row, nil
}

// Exists implements Storage.
func (s *SQLiteStorage) Exists(ctx context.Context, location string) (*ExistsResponse, error) {
	row, err := s.stat(ctx, location)
	if errors.Is(err, sql.ErrNoRows) {
		return &ExistsResponse{Exists: false, Raw: err}, nil
	}
	if err != nil {
		return nil, s.wrap("exists", location, err)
	}
	return &ExistsResponse{Exists: true, Raw: row}, nil
}

// Get implements Storage.
func (s *SQLiteStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *SQLiteStorage) GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error) {
	row := &sqliteRow{Location: location}
	var (
		data     []byte
		modified int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, size, content_type, modified FROM objects WHERE location = ?`,
		location,
	).Scan(&data, &row.Size, &row.ContentType, &modified)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	if data == nil {
		data = []byte{}
	}
	row.Modified = time.Unix(0, modified).UTC()
	return &ContentResponse[[]byte]{Content: data, Raw: row}, nil
}

// GetStream implements Storage. The BLOB is read fully before the reader is
// returned.
func (s *SQLiteStorage) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	buf, err := s.GetBuffer(ctx, location)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(buf.Content)), nil
}

// Put implements Storage. Uses INSERT OR REPLACE so that re-uploads
// overwrite the existing row.
func (s *SQLiteStorage) Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, drverr.Unknown("put", location, "", fmt.Errorf("reading content: %w", err))
	}
	if data == nil {
		data = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (location, data, size, content_type, modified) VALUES (?, ?, ?, ?, ?)`,
		location, data, len(data), opts.contentType(), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: res}, nil
}

// Delete implements Storage.
func (s *SQLiteStorage) Delete(ctx context.Context, location string, _ *DeleteOptions) (*Response, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE location = ?`, location)
	if err != nil {
		return nil, s.wrap("delete", location, err)
	}
	return &Response{Raw: res}, nil
}

// copyRow copies src onto dest with a single statement on q.
func copyRow(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, src, dest, contentType string) (sql.Result, error) {
	return q.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects (location, data, size, content_type, modified)
		 SELECT ?, data, size, COALESCE(NULLIF(?, ''), content_type), ?
		 FROM objects WHERE location = ?`,
		dest, contentType, time.Now().UTC().UnixNano(), src,
	)
}

// Copy implements Storage.
func (s *SQLiteStorage) Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	if opts.destBucket("") != "" {
		return nil, drverr.MethodNotSupported("copy", DriverSQLite)
	}
	res, err := copyRow(ctx, s.db, src, dest, opts.contentType())
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, drverr.FileNotFound("copy", src, sql.ErrNoRows)
	}
	return &Response{Raw: res}, nil
}

// Move implements Storage. Copy and delete run in one transaction.
func (s *SQLiteStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	if opts.destBucket("") != "" {
		return nil, drverr.MethodNotSupported("move", DriverSQLite)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap("move", src, err)
	}
	defer tx.Rollback()

	res, err := copyRow(ctx, tx, src, dest, opts.contentType())
	if err != nil {
		return nil, s.wrap("move", src, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, drverr.FileNotFound("move", src, sql.ErrNoRows)
	}
	if src != dest {
		if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE location = ?`, src); err != nil {
			return nil, s.wrap("move", src, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, s.wrap("move", src, err)
	}
	return &Response{Raw: res}, nil
}

// GetURL implements Storage: {base_url}/{location}.
func (s *SQLiteStorage) GetURL(location string) string {
	return s.urls.url(location)
}

// GetSignedURL implements Storage with HMAC signed gateway URLs.
func (s *SQLiteStorage) GetSignedURL(_ context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	return s.urls.signedURL("getSignedUrl", location, opts)
}

// VerifySignedURL implements SignedURLVerifier.
func (s *SQLiteStorage) VerifySignedURL(method, location string, q url.Values) error {
	return s.urls.verify(method, location, q)
}

// GetStat implements Storage.
func (s *SQLiteStorage) GetStat(ctx context.Context, location string) (*StatResponse, error) {
	row, err := s.stat(ctx, location)
	if err != nil {
		return nil, s.wrap("getStat", location, err)
	}
	return &StatResponse{Size: row.Size, Modified: row.Modified, Raw: row}, nil
}

// Bucket is not supported by the sqlite driver.
func (s *SQLiteStorage) Bucket(string) (Storage, error) {
	return nil, drverr.MethodNotSupported("bucket", DriverSQLite)
}

func (s *SQLiteStorage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifySQLiteError(err), err)
}

// classifySQLiteError maps database errors onto the taxonomy. A missing row
// is a missing file.
func classifySQLiteError(err error) drverr.Classification {
	if errors.Is(err, sql.ErrNoRows) {
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: "NoRows"}
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		c := drverr.Classification{Kind: drverr.KindUnknown, Code: fmt.Sprintf("SQLITE_%d", code)}
		switch code & 0xff {
		case sqlitePerm, sqliteReadOnly:
			c.Kind = drverr.KindPermissionMissing
		}
		return c
	}
	return drverr.Classification{Kind: drverr.KindUnknown}
}

var (
	_ Storage           = (*SQLiteStorage)(nil)
	_ SignedURLVerifier = (*SQLiteStorage)(nil)
	_ io.Closer         = (*SQLiteStorage)(nil)
	_ HealthChecker     = (*SQLiteStorage)(nil)
)
