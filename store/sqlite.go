package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// entryNamespace derives stable entry ids from keys.
var entryNamespace = uuid.MustParse("5b0f6c1e-2f1d-4b7a-9a53-8d3f1c0e7a42")

// Entry is a single persisted key.
type Entry struct {
	bun.BaseModel `bun:"table:credential_entries,alias:ce"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Key           string    `bun:"key,notnull,unique" json:"key"`
	Value         string    `bun:"value,notnull" json:"value"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// EntryID returns the id an entry for key is stored under.
func EntryID(key string) uuid.UUID {
	return uuid.NewSHA1(entryNamespace, []byte(key))
}

// NewEntriesRepository returns the repository over the entries table,
// looked up by key.
func NewEntriesRepository(db *bun.DB) repository.Repository[*Entry] {
	handlers := repository.ModelHandlers[*Entry]{
		NewRecord: func() *Entry {
			return &Entry{}
		},
		GetID: func(record *Entry) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Entry, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "key"
		},
	}
	return repository.NewRepository(db, handlers)
}

// SQLite is a Store backed by a bun database through the entries
// repository. Multi-key writes and removals run in one transaction.
type SQLite struct {
	db      *bun.DB
	entries repository.Repository[*Entry]
	now     func() time.Time
}

var _ Store = (*SQLite)(nil)

// SQLiteOption customizes the SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteClock injects the clock used for updated_at (useful for tests).
func WithSQLiteClock(clock func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OpenSQLite opens the sqlite database at dsn through sqliteshim and prepares
// the entries table.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLiteOption) (*SQLite, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, wrapErr(err, "open")
	}
	// sqlite serializes writers, a single connection avoids SQLITE_BUSY
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	s, err := NewSQLite(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an existing bun database and creates the entries table if
// it does not exist yet.
func NewSQLite(ctx context.Context, db *bun.DB, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{
		db:      db,
		entries: NewEntriesRepository(db),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	_, err := db.NewCreateTable().
		Model((*Entry)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, wrapErr(err, "migrate")
	}
	return s, nil
}

// DB exposes the underlying database.
func (s *SQLite) DB() *bun.DB {
	return s.db
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, wrapErr(err, "get", key)
	}

	entry, err := s.entries.GetByIdentifier(ctx, key)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, wrapErr(err, "get", key)
	}
	return entry.Value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany replaces every key in one transaction. Rows are deleted and
// recreated rather than updated so empty values are written too.
func (s *SQLite) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	now := s.now().UTC()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteKeys(ctx, tx, keys); err != nil {
			return err
		}
		for _, k := range keys {
			entry := &Entry{ID: EntryID(k), Key: k, Value: values[k], UpdatedAt: now}
			if _, err := s.entries.CreateTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr(err, "set", keys...)
}

func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return deleteKeys(ctx, tx, keys)
	})
	return wrapErr(err, "remove", keys...)
}

func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*Entry)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return wrapErr(err, "clear")
}

func deleteKeys(ctx context.Context, tx bun.IDB, keys []string) error {
	for _, k := range keys {
		_, err := tx.NewDelete().
			Model((*Entry)(nil)).
			Where("? = ?", bun.Ident("key"), k).
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
