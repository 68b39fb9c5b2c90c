package journal

import (
	"path/filepath"
	"testing"

	"github.com/roach88/universe/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFact creates a digested pushed fact.
func createTestFact(t *testing.T, token string, seq int64, rows ...ir.RowID) ir.Fact {
	t.Helper()
	f := ir.Fact{
		Seq:        seq,
		Kind:       ir.FactPushed,
		Table:      "items",
		Rows:       rows,
		Invocation: token,
	}
	for range rows {
		f.New = append(f.New, map[ir.ColumnName]any{"qty": int64(1)})
	}
	digest, err := ir.FactDigest(&f)
	if err != nil {
		t.Fatalf("FactDigest() failed: %v", err)
	}
	f.Digest = digest
	return f
}
