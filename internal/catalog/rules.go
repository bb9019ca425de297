package catalog

import (
	"fmt"
	"sort"
	"time"
)

// txn is the storage a catalog backend exposes to the shared DDL rules.
// Rules check every precondition before the first write, so a failed
// operation never leaves partial state even on backends without rollback.
type txn interface {
	getTable(id uint64) (*TableInfo, error) // nil, nil when missing
	putTable(t *TableInfo) error
	deleteTable(id uint64) error

	lookupName(ident TableIdent) (uint64, bool, error)
	setName(ident TableIdent, id uint64) error
	deleteName(ident TableIdent) error

	history(ident TableIdent) ([]uint64, error)
	setHistory(ident TableIdent, ids []uint64) error

	nextID() (uint64, error)
	scanTables(fn func(t *TableInfo) error) error
}

func prepareIdent(ident TableIdent) (TableIdent, error) {
	ident = ident.Normalize()
	if err := ident.Validate(); err != nil {
		return ident, err
	}
	return ident, nil
}

func liveTable(tx txn, op string, ident TableIdent) (*TableInfo, error) {
	id, ok, err := tx.lookupName(ident)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(CodeUnknownTable, op, ident, "")
	}
	t, err := tx.getTable(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("catalog: name %s maps to missing table %d", ident, id)
	}
	return t, nil
}

func createTable(tx txn, ident TableIdent, opts TableOptions, ifNotExists bool, now time.Time) (*TableInfo, error) {
	ident, err := prepareIdent(ident)
	if err != nil {
		return nil, err
	}
	if IsReservedDatabase(ident.Database) {
		return nil, newError(CodeReservedNamespace, "create", ident, "")
	}
	if id, ok, err := tx.lookupName(ident); err != nil {
		return nil, err
	} else if ok {
		if ifNotExists {
			return tx.getTable(id)
		}
		return nil, newError(CodeTableAlreadyExists, "create", ident, "")
	}

	id, err := tx.nextID()
	if err != nil {
		return nil, err
	}
	t := &TableInfo{ID: id, Ident: ident, Options: opts, CreatedAt: now}
	if err := tx.putTable(t); err != nil {
		return nil, err
	}
	if err := tx.setName(ident, id); err != nil {
		return nil, err
	}
	return t, nil
}

func getTable(tx txn, ident TableIdent) (*TableInfo, error) {
	ident, err := prepareIdent(ident)
	if err != nil {
		return nil, err
	}
	return liveTable(tx, "get", ident)
}

func getTableByID(tx txn, id uint64) (*TableInfo, error) {
	t, err := tx.getTable(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &Error{Code: CodeUnknownTable, Op: "get", Table: fmt.Sprintf("#%d", id)}
	}
	return t, nil
}

func casPointer(tx txn, id uint64, expected, next Pointer) (bool, error) {
	t, err := getTableByID(tx, id)
	if err != nil {
		return false, err
	}
	if t.Pointer != expected {
		return false, nil
	}
	t.Pointer = next
	if err := tx.putTable(t); err != nil {
		return false, err
	}
	return true, nil
}

func renameTable(tx txn, from, to TableIdent, ifExists bool) error {
	from, err := prepareIdent(from)
	if err != nil {
		return err
	}
	to, err = prepareIdent(to)
	if err != nil {
		return err
	}
	if from.Catalog != to.Catalog {
		return newError(CodeCrossCatalog, "rename", from, "to "+to.String())
	}
	if IsReservedDatabase(from.Database) {
		return newError(CodeReservedNamespace, "rename", from, "")
	}
	if IsReservedDatabase(to.Database) {
		return newError(CodeReservedNamespace, "rename", to, "")
	}

	t, err := liveTable(tx, "rename", from)
	if err != nil {
		if ifExists && isCode(err, CodeUnknownTable) {
			return nil
		}
		return err
	}
	if from == to {
		return nil
	}
	if _, ok, err := tx.lookupName(to); err != nil {
		return err
	} else if ok {
		return newError(CodeTableAlreadyExists, "rename", to, "")
	}

	t.Ident = to
	if err := tx.putTable(t); err != nil {
		return err
	}
	if err := tx.deleteName(from); err != nil {
		return err
	}
	return tx.setName(to, t.ID)
}

func dropTable(tx txn, ident TableIdent, ttl time.Duration, ifExists bool, now time.Time) error {
	ident, err := prepareIdent(ident)
	if err != nil {
		return err
	}
	if IsReservedDatabase(ident.Database) {
		return newError(CodeReservedNamespace, "drop", ident, "")
	}
	t, err := liveTable(tx, "drop", ident)
	if err != nil {
		if ifExists && isCode(err, CodeUnknownTable) {
			return nil
		}
		return err
	}
	hist, err := tx.history(ident)
	if err != nil {
		return err
	}

	t.DroppedAt = now
	t.DropTTL = ttl
	if err := tx.putTable(t); err != nil {
		return err
	}
	if err := tx.deleteName(ident); err != nil {
		return err
	}
	return tx.setHistory(ident, append(hist, t.ID))
}

func undropTable(tx txn, ident TableIdent, now time.Time) (*TableInfo, error) {
	ident, err := prepareIdent(ident)
	if err != nil {
		return nil, err
	}
	if _, ok, err := tx.lookupName(ident); err != nil {
		return nil, err
	} else if ok {
		return nil, newError(CodeUndropTableAlreadyExists, "undrop", ident, "")
	}

	hist, err := tx.history(ident)
	if err != nil {
		return nil, err
	}
	if len(hist) == 0 {
		return nil, newError(CodeUndropTableHasNoHistory, "undrop", ident, "")
	}
	id := hist[len(hist)-1]
	t, err := tx.getTable(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, newError(CodeUndropTableHasNoHistory, "undrop", ident, "table data was reclaimed")
	}
	if !t.Dropped() {
		return nil, newError(CodeUndropTableWithNoDropTime, "undrop", ident, "")
	}
	if t.Expired(now) {
		return nil, newError(CodeUndropTableHasNoHistory, "undrop", ident, "drop retention lapsed")
	}

	t.DroppedAt = time.Time{}
	t.DropTTL = 0
	t.Ident = ident
	if err := tx.putTable(t); err != nil {
		return nil, err
	}
	if err := tx.setName(ident, id); err != nil {
		return nil, err
	}
	if err := tx.setHistory(ident, hist[:len(hist)-1]); err != nil {
		return nil, err
	}
	return t, nil
}

func removeTable(tx txn, id uint64) error {
	t, err := tx.getTable(id)
	if err != nil || t == nil {
		return err
	}
	if !t.Dropped() {
		if cur, ok, err := tx.lookupName(t.Ident); err != nil {
			return err
		} else if ok && cur == id {
			if err := tx.deleteName(t.Ident); err != nil {
				return err
			}
		}
	}
	hist, err := tx.history(t.Ident)
	if err != nil {
		return err
	}
	kept := hist[:0]
	for _, h := range hist {
		if h != id {
			kept = append(kept, h)
		}
	}
	if err := tx.setHistory(t.Ident, kept); err != nil {
		return err
	}
	return tx.deleteTable(id)
}

func listTables(tx txn, catalog, database string, dropped bool) ([]*TableInfo, error) {
	if catalog == "" {
		catalog = DefaultCatalog
	}
	var out []*TableInfo
	err := tx.scanTables(func(t *TableInfo) error {
		if t.Dropped() != dropped {
			return nil
		}
		if !dropped && (t.Ident.Catalog != catalog || (database != "" && t.Ident.Database != database)) {
			return nil
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ident != out[j].Ident {
			return out[i].Ident.String() < out[j].Ident.String()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func isCode(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
