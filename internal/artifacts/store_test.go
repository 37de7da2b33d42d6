package artifacts

import (
	"bytes"
	"strings"
	"testing"
)

func TestSaveAndRead(t *testing.T) {
	store, err := NewStore(t.TempDir(), "op-123")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	data := []byte("nmap scan output\nPORT   STATE SERVICE\n22/tcp open  ssh\n")
	artifact, err := store.Save("nmap", data)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if artifact.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(data))
	}
	if !strings.HasPrefix(artifact.Path, "op-123/artifacts/nmap_") {
		t.Errorf("Path = %q, want op-scoped nmap_ prefix", artifact.Path)
	}
	if !strings.HasSuffix(artifact.Path, ".txt") {
		t.Errorf("Path = %q, want .txt suffix", artifact.Path)
	}

	got, err := store.Read(artifact.Path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read() = %q, want original data", got)
	}
}

func TestReadUnknownArtifact(t *testing.T) {
	store, err := NewStore(t.TempDir(), "op-123")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Read("op-123/artifacts/missing.txt"); err == nil {
		t.Error("Read() = nil error for unknown artifact, want error")
	}
}

func TestSanitizeToolNames(t *testing.T) {
	store, err := NewStore(t.TempDir(), "op 456/weird")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	artifact, err := store.Save("generic linux command!", []byte("output"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if strings.ContainsAny(artifact.Path, " !") {
		t.Errorf("Path = %q, contains unsafe characters", artifact.Path)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	store, err := NewStore(t.TempDir(), "op-789")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Save("first", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save("second", []byte("bb")); err != nil {
		t.Fatal(err)
	}

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d artifacts, want 2", len(list))
	}
	if list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Error("List() not ordered oldest first")
	}
}
