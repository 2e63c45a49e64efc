package testutil

import (
	"context"
	"testing"
)

func TestStubDBBuffersUntilCommit(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2)`, "titration", []byte(`{}`)); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(conn.Rows) != 0 {
		t.Fatalf("rows visible before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var n int
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if bucket != "titration" || string(payload) != "{}" {
			t.Fatalf("unexpected row %s=%s", bucket, payload)
		}
		n++
	}
	if n != 1 || conn.Commits != 1 {
		t.Fatalf("expected one committed row, rows=%d commits=%d", n, conn.Commits)
	}
}

func TestStubDBRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2)`, "protocol", []byte(`{}`)); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(conn.Rows) != 0 || conn.Rollbacks != 1 {
		t.Fatalf("rollback should discard pending rows: %v", conn.Rows)
	}
}
