package heapdump

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"bridgejs/pkg/vm"
)

func TestWriteFile_GraphIsQueryable(t *testing.T) {
	rt := vm.NewRuntime()
	ctx := rt.NewContext()
	defer rt.Close()

	parent := ctx.NewObject()
	child := ctx.NewObject()
	ctx.SetPropertyStr(parent, "child", child)
	ctx.SetGlobal("root", parent)

	path := filepath.Join(t.TempDir(), "heap.db")
	st, err := WriteFile(context.Background(), rt, path)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if st.Nodes == 0 || st.Edges == 0 {
		t.Fatalf("Expected nodes and edges, got %+v", st)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var nodes int
	if err := db.QueryRow("SELECT COUNT(*) FROM objects").Scan(&nodes); err != nil {
		t.Fatal(err)
	}
	if nodes != st.Nodes {
		t.Errorf("Expected %d rows, got %d", st.Nodes, nodes)
	}

	// global object -> root -> child
	var label string
	err = db.QueryRow(`
		SELECT e2.label FROM edges e1
		JOIN edges e2 ON e2.src = e1.dst
		WHERE e1.label = 'root' AND e2.label = 'child'`).Scan(&label)
	if err != nil {
		t.Fatalf("Expected to follow root.child through edges: %v", err)
	}

	var objects int
	if err := db.QueryRow("SELECT count FROM summary WHERE kind = 'object:Object'").Scan(&objects); err != nil {
		t.Fatal(err)
	}
	if objects < 2 {
		t.Errorf("Expected at least 2 plain objects in the summary, got %d", objects)
	}
}

func TestWriteFile_Overwrites(t *testing.T) {
	rt := vm.NewRuntime()
	rt.NewContext()
	defer rt.Close()
	path := filepath.Join(t.TempDir(), "heap.db")
	first, err := WriteFile(context.Background(), rt, path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := WriteFile(context.Background(), rt, path)
	if err != nil {
		t.Fatalf("Expected a second dump to replace the first: %v", err)
	}
	if first.Nodes != second.Nodes {
		t.Errorf("Expected the same heap twice, got %d and %d nodes", first.Nodes, second.Nodes)
	}
}
