package snapshot

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbari/backup/internal/backupinit"
)

func setupBackup(t *testing.T, configDir string, dirs []string) {
	t.Helper()
	ctx := context.Background()
	if _, err := backupinit.New(ctx, "demo", dirs, nil, nil, configDir); err != nil {
		t.Fatalf("backupinit.New: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRunFirstSnapshotDeduplicatesContent(t *testing.T) {
	configDir := t.TempDir()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f1"), "A")
	writeFile(t, filepath.Join(root, "f2"), "B")
	writeFile(t, filepath.Join(root, "sub", "f3"), "A")

	setupBackup(t, configDir, []string{root})

	report, err := Run(context.Background(), "demo", false, false, configDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Version != 1 {
		t.Fatalf("Version = %d, want 1", report.Version)
	}
	if report.FilesObserved != 3 {
		t.Fatalf("FilesObserved = %d, want 3", report.FilesObserved)
	}

	db, err := sql.Open("sqlite3", filepath.Join(configDir, "demo.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer db.Close()
	var fileRows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM Files`).Scan(&fileRows); err != nil {
		t.Fatalf("count files: %v", err)
	}
	if fileRows != 2 {
		t.Fatalf("Files rows = %d, want 2 (f1 and sub/f3 share content)", fileRows)
	}
}

func TestRunSecondSnapshotChangeAddDelete(t *testing.T) {
	configDir := t.TempDir()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f1"), "A")
	writeFile(t, filepath.Join(root, "f2"), "B")

	setupBackup(t, configDir, []string{root})

	ctx := context.Background()
	if _, err := Run(ctx, "demo", false, false, configDir); err != nil {
		t.Fatalf("first run: %v", err)
	}

	writeFile(t, filepath.Join(root, "f1"), "C")
	writeFile(t, filepath.Join(root, "f4"), "B")
	if err := os.Remove(filepath.Join(root, "f2")); err != nil {
		t.Fatalf("remove f2: %v", err)
	}

	report, err := Run(ctx, "demo", false, false, configDir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Version != 2 {
		t.Fatalf("Version = %d, want 2", report.Version)
	}
	// f1 (new content) and f4 remain; f2 was deleted from disk so it is
	// simply not yielded by traversal this run.
	if report.FilesObserved != 2 {
		t.Fatalf("FilesObserved = %d, want 2", report.FilesObserved)
	}
}

func TestRunDryRunLeavesCatalogUnchanged(t *testing.T) {
	configDir := t.TempDir()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f1"), "A")

	setupBackup(t, configDir, []string{root})

	ctx := context.Background()
	report, err := Run(ctx, "demo", false, true, configDir)
	if err != nil {
		t.Fatalf("Run dry-run: %v", err)
	}
	if report.Version != DryRunVersion {
		t.Fatalf("Version = %d, want sentinel %d", report.Version, DryRunVersion)
	}

	// A subsequent real run should still allocate version 1: the dry run
	// must not have consumed a version id.
	real, err := Run(ctx, "demo", false, false, configDir)
	if err != nil {
		t.Fatalf("Run real: %v", err)
	}
	if real.Version != 1 {
		t.Fatalf("first real run Version = %d, want 1 (dry run must not allocate a version)", real.Version)
	}
}

func TestRunSkipsUnreadableFileAndCleansUpLog(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root: permission bits are not enforced")
	}

	configDir := t.TempDir()
	root := t.TempDir()
	bad := filepath.Join(root, "secret")
	writeFile(t, bad, "A")
	if err := os.Chmod(bad, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(bad, 0o644)

	setupBackup(t, configDir, []string{root})

	ctx := context.Background()
	report, err := Run(ctx, "demo", false, false, configDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SkippedLogPath == "" {
		t.Fatal("expected a non-empty skipped log path")
	}
	data, err := os.ReadFile(report.SkippedLogPath)
	if err != nil {
		t.Fatalf("read skip log: %v", err)
	}
	if string(data) != bad+"\n" {
		t.Fatalf("skip log contents = %q, want %q", data, bad+"\n")
	}

	if err := os.Chmod(bad, 0o644); err != nil {
		t.Fatalf("chmod restore: %v", err)
	}
	report2, err := Run(ctx, "demo", false, false, configDir)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report2.SkippedLogPath != "" {
		t.Fatalf("expected skip log to be removed once every file is readable, got %q", report2.SkippedLogPath)
	}
}

func TestRunFailsOnMissingRoot(t *testing.T) {
	configDir := t.TempDir()
	root := filepath.Join(t.TempDir(), "does-not-exist")

	setupBackup(t, configDir, []string{root})

	if _, err := Run(context.Background(), "demo", false, false, configDir); err == nil {
		t.Fatal("expected Run to fail when a configured root is missing")
	}
}

func TestRunFailsWhenCatalogMissing(t *testing.T) {
	configDir := t.TempDir()
	if _, err := Run(context.Background(), "ghost", false, false, configDir); err == nil {
		t.Fatal("expected Run to fail for a nonexistent backup name")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		secs int64
		want string
	}{
		{5, "5s"},
		{65, "1m 5s"},
		{3661, "1h 1m 1s"},
		{90061, "1d 1h 1m 1s"},
	}
	for _, c := range cases {
		got := FormatDuration(time.Duration(c.secs) * time.Second)
		if got != c.want {
			t.Fatalf("FormatDuration(%ds) = %q, want %q", c.secs, got, c.want)
		}
	}
}
