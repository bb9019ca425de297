package catalog

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Catalog. One mutex serializes every operation,
// which makes CASPointer trivially atomic.
type Memory struct {
	mu     sync.Mutex
	tables map[uint64]*TableInfo
	names  map[TableIdent]uint64
	hist   map[TableIdent][]uint64
	lastID uint64
	now    func() time.Time
	closed bool
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[uint64]*TableInfo),
		names:  make(map[TableIdent]uint64),
		hist:   make(map[TableIdent][]uint64),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for creation and drop times.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) update(ctx context.Context, fn func(tx txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return fn((*memTxn)(m))
}

// memTxn exposes Memory's maps to the shared rules. Callers hold m.mu.
type memTxn Memory

func (t *memTxn) getTable(id uint64) (*TableInfo, error) {
	info, ok := t.tables[id]
	if !ok {
		return nil, nil
	}
	return info.clone(), nil
}

func (t *memTxn) putTable(info *TableInfo) error {
	t.tables[info.ID] = info.clone()
	return nil
}

func (t *memTxn) deleteTable(id uint64) error {
	delete(t.tables, id)
	return nil
}

func (t *memTxn) lookupName(ident TableIdent) (uint64, bool, error) {
	id, ok := t.names[ident]
	return id, ok, nil
}

func (t *memTxn) setName(ident TableIdent, id uint64) error {
	t.names[ident] = id
	return nil
}

func (t *memTxn) deleteName(ident TableIdent) error {
	delete(t.names, ident)
	return nil
}

func (t *memTxn) history(ident TableIdent) ([]uint64, error) {
	return slices.Clone(t.hist[ident]), nil
}

func (t *memTxn) setHistory(ident TableIdent, ids []uint64) error {
	if len(ids) == 0 {
		delete(t.hist, ident)
		return nil
	}
	t.hist[ident] = slices.Clone(ids)
	return nil
}

func (t *memTxn) nextID() (uint64, error) {
	t.lastID++
	return t.lastID, nil
}

func (t *memTxn) scanTables(fn func(info *TableInfo) error) error {
	for _, info := range t.tables {
		if err := fn(info.clone()); err != nil {
			return err
		}
	}
	return nil
}

// CreateTable implements Catalog.
func (m *Memory) CreateTable(ctx context.Context, ident TableIdent, opts TableOptions, ifNotExists bool) (info *TableInfo, err error) {
	err = m.update(ctx, func(tx txn) error {
		info, err = createTable(tx, ident, opts, ifNotExists, m.now().UTC())
		return err
	})
	return info, err
}

// GetTable implements Catalog.
func (m *Memory) GetTable(ctx context.Context, ident TableIdent) (info *TableInfo, err error) {
	err = m.update(ctx, func(tx txn) error {
		info, err = getTable(tx, ident)
		return err
	})
	return info, err
}

// GetTableByID implements Catalog.
func (m *Memory) GetTableByID(ctx context.Context, id uint64) (info *TableInfo, err error) {
	err = m.update(ctx, func(tx txn) error {
		info, err = getTableByID(tx, id)
		return err
	})
	return info, err
}

// ListTables implements Catalog.
func (m *Memory) ListTables(ctx context.Context, catalog, database string) (out []*TableInfo, err error) {
	err = m.update(ctx, func(tx txn) error {
		out, err = listTables(tx, catalog, database, false)
		return err
	})
	return out, err
}

// ListDropped implements Catalog.
func (m *Memory) ListDropped(ctx context.Context) (out []*TableInfo, err error) {
	err = m.update(ctx, func(tx txn) error {
		out, err = listTables(tx, "", "", true)
		return err
	})
	return out, err
}

// ReadPointer implements Catalog.
func (m *Memory) ReadPointer(ctx context.Context, tableID uint64) (Pointer, error) {
	info, err := m.GetTableByID(ctx, tableID)
	if err != nil {
		return Pointer{}, err
	}
	return info.Pointer, nil
}

// CASPointer implements Catalog.
func (m *Memory) CASPointer(ctx context.Context, tableID uint64, expected, next Pointer) (ok bool, err error) {
	err = m.update(ctx, func(tx txn) error {
		ok, err = casPointer(tx, tableID, expected, next)
		return err
	})
	return ok, err
}

// RenameTable implements Catalog.
func (m *Memory) RenameTable(ctx context.Context, from, to TableIdent, ifExists bool) error {
	return m.update(ctx, func(tx txn) error {
		return renameTable(tx, from, to, ifExists)
	})
}

// DropTable implements Catalog.
func (m *Memory) DropTable(ctx context.Context, ident TableIdent, ttl time.Duration, ifExists bool) error {
	return m.update(ctx, func(tx txn) error {
		return dropTable(tx, ident, ttl, ifExists, m.now().UTC())
	})
}

// UndropTable implements Catalog.
func (m *Memory) UndropTable(ctx context.Context, ident TableIdent) (info *TableInfo, err error) {
	err = m.update(ctx, func(tx txn) error {
		info, err = undropTable(tx, ident, m.now().UTC())
		return err
	})
	return info, err
}

// RemoveTable implements Catalog.
func (m *Memory) RemoveTable(ctx context.Context, tableID uint64) error {
	return m.update(ctx, func(tx txn) error {
		return removeTable(tx, tableID)
	})
}

// Close implements Catalog.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
