package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aalhour/fusesnap/internal/logging"
)

// Key layout:
//
//	t/{id:016x}              table record (JSON)
//	n/{catalog}/{db}/{name}  live name -> id
//	h/{catalog}/{db}/{name}  dropped ids under that name, oldest first
//	seq/table                id allocator
const (
	prefixTable   = "t/"
	prefixName    = "n/"
	prefixHistory = "h/"
	keySequence   = "seq/table"

	// DDL transactions that lose a badger write conflict are retried.
	maxConflictRetries = 5
)

// BadgerConfig configures the badger-backed catalog.
type BadgerConfig struct {
	// Path is the directory for badger files. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's own log lines. Nil disables them.
	Logger logging.Logger
}

// DefaultBadgerConfig returns a durable configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts logging.Logger to badger's Logger interface.
type badgerLogger struct {
	logger logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Errorf(logging.NSCatalog+"badger: "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warnf(logging.NSCatalog+"badger: "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Infof(logging.NSCatalog+"badger: "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debugf(logging.NSCatalog+"badger: "+format, args...)
}

// Badger is a Catalog persisted in an embedded badger database. Every
// operation runs in one badger transaction, so CASPointer is atomic across
// goroutines sharing the database.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

// OpenBadger opens or creates a badger catalog.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("catalog: badger path is required for a persistent catalog")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("catalog: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if logging.IsNil(cfg.Logger) {
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(keySequence), 16)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: table id sequence: %w", err)
	}
	return &Badger{db: db, seq: seq, now: time.Now}, nil
}

// SetClock replaces the clock used for creation and drop times.
func (b *Badger) SetClock(now func() time.Time) {
	b.now = now
}

// Close releases the id sequence and closes the database.
func (b *Badger) Close() error {
	relErr := b.seq.Release()
	closeErr := b.db.Close()
	if relErr != nil {
		return relErr
	}
	return closeErr
}

func (b *Badger) update(ctx context.Context, fn func(tx txn) error) error {
	var err error
	for range maxConflictRetries {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = b.db.Update(func(btx *badger.Txn) error {
			return fn(&badgerTxn{txn: btx, seq: b.seq})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *Badger) view(ctx context.Context, fn func(tx txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(btx *badger.Txn) error {
		return fn(&badgerTxn{txn: btx, seq: b.seq})
	})
}

type badgerTxn struct {
	txn *badger.Txn
	seq *badger.Sequence
}

func tableKey(id uint64) []byte {
	return fmt.Appendf(nil, "%s%016x", prefixTable, id)
}

func identKey(prefix string, ident TableIdent) []byte {
	return []byte(prefix + ident.Catalog + "/" + ident.Database + "/" + ident.Name)
}

func (t *badgerTxn) getJSON(key []byte, v any) (bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (t *badgerTxn) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, data)
}

func (t *badgerTxn) getTable(id uint64) (*TableInfo, error) {
	var info TableInfo
	ok, err := t.getJSON(tableKey(id), &info)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}

func (t *badgerTxn) putTable(info *TableInfo) error {
	return t.setJSON(tableKey(info.ID), info)
}

func (t *badgerTxn) deleteTable(id uint64) error {
	return t.txn.Delete(tableKey(id))
}

func (t *badgerTxn) lookupName(ident TableIdent) (uint64, bool, error) {
	item, err := t.txn.Get(identKey(prefixName, ident))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id uint64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseUint(string(val), 10, 64)
		return err
	})
	return id, err == nil, err
}

func (t *badgerTxn) setName(ident TableIdent, id uint64) error {
	return t.txn.Set(identKey(prefixName, ident), strconv.AppendUint(nil, id, 10))
}

func (t *badgerTxn) deleteName(ident TableIdent) error {
	return t.txn.Delete(identKey(prefixName, ident))
}

func (t *badgerTxn) history(ident TableIdent) ([]uint64, error) {
	var ids []uint64
	if _, err := t.getJSON(identKey(prefixHistory, ident), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *badgerTxn) setHistory(ident TableIdent, ids []uint64) error {
	if len(ids) == 0 {
		return t.txn.Delete(identKey(prefixHistory, ident))
	}
	return t.setJSON(identKey(prefixHistory, ident), ids)
}

func (t *badgerTxn) nextID() (uint64, error) {
	n, err := t.seq.Next()
	if err != nil {
		return 0, err
	}
	// Sequences start at zero; table ids start at one.
	return n + 1, nil
}

func (t *badgerTxn) scanTables(fn func(info *TableInfo) error) error {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(prefixTable)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var info TableInfo
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		}); err != nil {
			return fmt.Errorf("catalog: decode %s: %w", it.Item().Key(), err)
		}
		if err := fn(&info); err != nil {
			return err
		}
	}
	return nil
}

// CreateTable implements Catalog.
func (b *Badger) CreateTable(ctx context.Context, ident TableIdent, opts TableOptions, ifNotExists bool) (info *TableInfo, err error) {
	err = b.update(ctx, func(tx txn) error {
		info, err = createTable(tx, ident, opts, ifNotExists, b.now().UTC())
		return err
	})
	return info, err
}

// GetTable implements Catalog.
func (b *Badger) GetTable(ctx context.Context, ident TableIdent) (info *TableInfo, err error) {
	err = b.view(ctx, func(tx txn) error {
		info, err = getTable(tx, ident)
		return err
	})
	return info, err
}

// GetTableByID implements Catalog.
func (b *Badger) GetTableByID(ctx context.Context, id uint64) (info *TableInfo, err error) {
	err = b.view(ctx, func(tx txn) error {
		info, err = getTableByID(tx, id)
		return err
	})
	return info, err
}

// ListTables implements Catalog.
func (b *Badger) ListTables(ctx context.Context, catalog, database string) (out []*TableInfo, err error) {
	err = b.view(ctx, func(tx txn) error {
		out, err = listTables(tx, catalog, database, false)
		return err
	})
	return out, err
}

// ListDropped implements Catalog.
func (b *Badger) ListDropped(ctx context.Context) (out []*TableInfo, err error) {
	err = b.view(ctx, func(tx txn) error {
		out, err = listTables(tx, "", "", true)
		return err
	})
	return out, err
}

// ReadPointer implements Catalog.
func (b *Badger) ReadPointer(ctx context.Context, tableID uint64) (Pointer, error) {
	info, err := b.GetTableByID(ctx, tableID)
	if err != nil {
		return Pointer{}, err
	}
	return info.Pointer, nil
}

// CASPointer implements Catalog. A badger write conflict means another
// transaction touched the record first, which is reported as a lost race.
func (b *Badger) CASPointer(ctx context.Context, tableID uint64, expected, next Pointer) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := b.db.Update(func(btx *badger.Txn) error {
		var err error
		ok, err = casPointer(&badgerTxn{txn: btx, seq: b.seq}, tableID, expected, next)
		return err
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RenameTable implements Catalog.
func (b *Badger) RenameTable(ctx context.Context, from, to TableIdent, ifExists bool) error {
	return b.update(ctx, func(tx txn) error {
		return renameTable(tx, from, to, ifExists)
	})
}

// DropTable implements Catalog.
func (b *Badger) DropTable(ctx context.Context, ident TableIdent, ttl time.Duration, ifExists bool) error {
	return b.update(ctx, func(tx txn) error {
		return dropTable(tx, ident, ttl, ifExists, b.now().UTC())
	})
}

// UndropTable implements Catalog.
func (b *Badger) UndropTable(ctx context.Context, ident TableIdent) (info *TableInfo, err error) {
	err = b.update(ctx, func(tx txn) error {
		info, err = undropTable(tx, ident, b.now().UTC())
		return err
	})
	return info, err
}

// RemoveTable implements Catalog.
func (b *Badger) RemoveTable(ctx context.Context, tableID uint64) error {
	return b.update(ctx, func(tx txn) error {
		return removeTable(tx, tableID)
	})
}
