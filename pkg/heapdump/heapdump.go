// Package heapdump writes a runtime's heap graph into a SQLite database
// for offline inspection:
//
//	objects(id, kind, class, refcount, detail)
//	edges(src, dst, label)
//	summary(kind, count)
package heapdump

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"bridgejs/pkg/vm"
)

var log = commonlog.GetLogger("bridgejs.heapdump")

const schema = `
CREATE TABLE objects (
	id       INTEGER PRIMARY KEY,
	kind     TEXT NOT NULL,
	class    TEXT,
	refcount INTEGER NOT NULL,
	detail   TEXT
);
CREATE TABLE edges (
	src   INTEGER NOT NULL,
	dst   INTEGER NOT NULL,
	label TEXT NOT NULL
);
CREATE INDEX edges_src ON edges(src);
CREATE INDEX edges_dst ON edges(dst);
CREATE TABLE summary (
	kind  TEXT PRIMARY KEY,
	count INTEGER NOT NULL
);
`

// Stats reports what a dump wrote.
type Stats struct {
	Nodes int
	Edges int
}

// WriteFile dumps rt into a fresh database at path, replacing any file
// already there.
func WriteFile(ctx context.Context, rt *vm.Runtime, path string) (Stats, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return Stats{}, fmt.Errorf("heapdump: removing %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Stats{}, fmt.Errorf("heapdump: opening database: %w", err)
	}
	defer db.Close()
	st, err := Write(ctx, rt, db)
	if err != nil {
		return st, err
	}
	log.Infof("heap dump %s: %d nodes, %d edges", path, st.Nodes, st.Edges)
	return st, nil
}

// Write creates the dump tables in db and fills them in one transaction.
func Write(ctx context.Context, rt *vm.Runtime, db *sql.DB) (Stats, error) {
	var st Stats
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return st, fmt.Errorf("heapdump: creating tables: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("heapdump: begin: %w", err)
	}
	defer tx.Rollback()

	insNode, err := tx.PrepareContext(ctx, "INSERT INTO objects (id, kind, class, refcount, detail) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return st, fmt.Errorf("heapdump: %w", err)
	}
	defer insNode.Close()
	insEdge, err := tx.PrepareContext(ctx, "INSERT INTO edges (src, dst, label) VALUES (?, ?, ?)")
	if err != nil {
		return st, fmt.Errorf("heapdump: %w", err)
	}
	defer insEdge.Close()

	counts := map[string]int{}
	err = rt.WalkHeap(func(n vm.HeapNode) error {
		kind := n.Kind
		if n.Class != "" {
			kind = n.Kind + ":" + n.Class
		}
		counts[kind]++
		var class any
		if n.Class != "" {
			class = n.Class
		}
		if _, err := insNode.ExecContext(ctx, int64(n.ID), n.Kind, class, n.RefCount, n.Detail); err != nil {
			return err
		}
		st.Nodes++
		for _, e := range n.Edges {
			if _, err := insEdge.ExecContext(ctx, int64(n.ID), int64(e.To), e.Label); err != nil {
				return err
			}
			st.Edges++
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("heapdump: writing nodes: %w", err)
	}
	for kind, n := range counts {
		if _, err := tx.ExecContext(ctx, "INSERT INTO summary (kind, count) VALUES (?, ?)", kind, n); err != nil {
			return st, fmt.Errorf("heapdump: writing summary: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return st, fmt.Errorf("heapdump: commit: %w", err)
	}
	return st, nil
}
