package ossys

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSocketpairProducesAConnectedPair(t *testing.T) {
	r := Real{}
	a, b, err := r.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer r.Close(a)
	defer r.Close(b)

	if a < 0 || b < 0 || a == b {
		t.Fatalf("expected two distinct valid fds, got %d %d", a, b)
	}
}

func TestCloseOfNegativeFdIsANoOp(t *testing.T) {
	r := Real{}
	if err := r.Close(-1); err != nil {
		t.Fatalf("expected Close(-1) to be a no-op, got %v", err)
	}
}

func TestChmodAppliesMode(t *testing.T) {
	r := Real{}
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := r.Chmod(path, 0640); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0640 {
		t.Fatalf("expected mode 0640, got %v", info.Mode().Perm())
	}
}

func TestChmodOfZeroModeIsANoOp(t *testing.T) {
	r := Real{}
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := r.Chmod(path, 0); err != nil {
		t.Fatalf("expected Chmod(0) to be a no-op, got %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected mode to be untouched, got %v", info.Mode().Perm())
	}
}

func TestChownWithNoNamesIsANoOp(t *testing.T) {
	r := Real{}
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := r.Chown(path, "", ""); err != nil {
		t.Fatalf("expected Chown with empty names to be a no-op, got %v", err)
	}
}

func TestKillAndWaitOfNonPositivePidAreNoOps(t *testing.T) {
	r := Real{}
	if err := r.Kill(0); err != nil {
		t.Fatalf("expected Kill(0) to be a no-op, got %v", err)
	}
	if err := r.Wait(0); err != nil {
		t.Fatalf("expected Wait(0) to be a no-op, got %v", err)
	}
}

func TestDevNullOpensWritableFile(t *testing.T) {
	f, err := DevNull()
	if err != nil {
		t.Fatalf("DevNull: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("discarded")); err != nil {
		t.Fatalf("write to /dev/null: %v", err)
	}
}
