package backupinit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbari/backup/internal/catalog"
	"github.com/nbari/backup/internal/keyvault"
)

func TestNewCreatesCatalogAndPersistsRoots(t *testing.T) {
	configDir := t.TempDir()
	ctx := context.Background()

	res, err := New(ctx, "demo",
		[]string{"/tmp/a", "/tmp/a/b"},
		[]string{"/tmp/a/x", "/tmp/y/z"},
		nil,
		configDir,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if res.CatalogPath != filepath.Join(configDir, "demo.db") {
		t.Fatalf("CatalogPath = %q", res.CatalogPath)
	}
	if len(res.Directories) != 1 || res.Directories[0] != "/tmp/a" {
		t.Fatalf("Directories = %v, want [/tmp/a]", res.Directories)
	}
	if len(res.Files) != 1 || res.Files[0] != "/tmp/y/z" {
		t.Fatalf("Files = %v, want [/tmp/y/z]", res.Files)
	}

	words := strings.Fields(res.Phrase)
	if len(words) != keyvault.MnemonicWords {
		t.Fatalf("phrase has %d words, want %d", len(words), keyvault.MnemonicWords)
	}

	store, err := catalog.Open(res.CatalogPath)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}
	defer store.Close()

	pk, err := store.GetPublicKey(ctx)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	_, wantPK, err := keyvault.DeriveRecipient(res.Phrase)
	if err != nil {
		t.Fatalf("DeriveRecipient: %v", err)
	}
	if pk != wantPK {
		t.Fatal("persisted public key does not match the key derived from the returned phrase")
	}

	dirs, err := store.ListConfigDirectories(ctx)
	if err != nil {
		t.Fatalf("ListConfigDirectories: %v", err)
	}
	if len(dirs) != 1 || dirs[0] != "/tmp/a" {
		t.Fatalf("ListConfigDirectories = %v", dirs)
	}
}

func TestNewRejectsDuplicateName(t *testing.T) {
	configDir := t.TempDir()
	ctx := context.Background()

	if _, err := New(ctx, "demo", []string{"/tmp/a"}, nil, nil, configDir); err != nil {
		t.Fatalf("first New: %v", err)
	}

	_, err := New(ctx, "demo", []string{"/tmp/a"}, nil, nil, configDir)
	if err == nil {
		t.Fatal("expected second New with the same name to fail")
	}

	data, readErr := os.ReadFile(filepath.Join(configDir, "demo.db"))
	if readErr != nil {
		t.Fatalf("read existing catalog: %v", readErr)
	}
	if len(data) == 0 {
		t.Fatal("existing catalog was truncated by the rejected second New")
	}
}

func TestFormatPhraseGroupsFourPerLine(t *testing.T) {
	phrase := "one two three four five six seven eight nine ten eleven twelve"
	got := FormatPhrase(phrase)
	want := "one two three four\nfive six seven eight\nnine ten eleven twelve\n"
	if got != want {
		t.Fatalf("FormatPhrase = %q, want %q", got, want)
	}
}
