package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testBlock = Block{Begin: "# BEGIN TEST", End: "# END TEST"}

func TestBlockApply(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		body string
		want string
	}{
		{
			name: "append to existing file",
			doc:  "127.0.0.1 localhost\n",
			body: "10.0.0.1 a\n10.0.0.2 b\n",
			want: "127.0.0.1 localhost\n\n# BEGIN TEST\n10.0.0.1 a\n10.0.0.2 b\n# END TEST\n",
		},
		{
			name: "append to file without trailing newline",
			doc:  "127.0.0.1 localhost",
			body: "10.0.0.1 a",
			want: "127.0.0.1 localhost\n\n# BEGIN TEST\n10.0.0.1 a\n# END TEST\n",
		},
		{
			name: "empty file",
			doc:  "",
			body: "10.0.0.1 a",
			want: "# BEGIN TEST\n10.0.0.1 a\n# END TEST\n",
		},
		{
			name: "replace interior and keep surroundings",
			doc:  "head\n# BEGIN TEST\nold\n# END TEST\ntail\n",
			body: "new1\nnew2",
			want: "head\n# BEGIN TEST\nnew1\nnew2\n# END TEST\ntail\n",
		},
		{
			name: "duplicate blocks collapse",
			doc:  "# BEGIN TEST\nx\n# END TEST\nmid\n# BEGIN TEST\ny\n# END TEST\n",
			body: "z",
			want: "# BEGIN TEST\nz\n# END TEST\nmid\n",
		},
		{
			name: "unterminated block runs to eof",
			doc:  "head\n# BEGIN TEST\nstale\n",
			body: "z",
			want: "head\n# BEGIN TEST\nz\n# END TEST\n",
		},
		{
			name: "empty body",
			doc:  "head\n",
			body: "\n\n",
			want: "head\n\n# BEGIN TEST\n# END TEST\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(testBlock.Apply([]byte(tt.doc), tt.body))
			if got != tt.want {
				t.Errorf("Apply() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestBlockApplyIdempotent(t *testing.T) {
	doc := []byte("127.0.0.1 localhost\n::1 ip6-localhost\n")
	body := "192.168.100.101 master\n192.168.100.102 worker1\n"

	first := testBlock.Apply(doc, body)
	second := testBlock.Apply(first, body)
	if string(first) != string(second) {
		t.Errorf("second apply changed content:\n%q\n%q", first, second)
	}
	if strings.Count(string(second), testBlock.Begin) != 1 {
		t.Errorf("expected exactly one block, got:\n%s", second)
	}
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "99-test.yaml")
	if err := os.WriteFile(path, []byte("original\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC)
	backup, err := Backup(path, now)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if backup != path+".bak-20261019T101500" {
		t.Errorf("unexpected backup name %s", backup)
	}
	if strings.HasSuffix(backup, ".yaml") {
		t.Error("backup must not keep the .yaml suffix")
	}

	// Same second: must not clobber the first backup.
	second, err := Backup(path, now)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if second == backup {
		t.Error("second backup reused the first backup's name")
	}

	if err := os.WriteFile(path, []byte("changed\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if second != backup+".1" {
		t.Errorf("expected collision suffix, got %s", second)
	}

	if err := Restore(second, path); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "original\n" {
		t.Errorf("restore produced %q", got)
	}
	if mode := FileMode(path, 0); mode != 0o600 {
		t.Errorf("expected mode 0600, got %o", mode)
	}
}

func TestBackupMissingSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")
	backup, err := Backup(path, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backup != "" {
		t.Errorf("expected no backup, got %s", backup)
	}
	if matches, _ := filepath.Glob(path + BackupSuffix + "*"); len(matches) != 0 {
		t.Errorf("expected no backup files, got %v", matches)
	}
}

func TestWriteIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")

	wrote, err := WriteIfChanged(path, []byte("a"), 0o644)
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}
	wrote, err = WriteIfChanged(path, []byte("a"), 0o644)
	if err != nil || wrote {
		t.Fatalf("identical write: wrote=%v err=%v", wrote, err)
	}
	wrote, err = WriteIfChanged(path, []byte("b"), 0o644)
	if err != nil || !wrote {
		t.Fatalf("changed write: wrote=%v err=%v", wrote, err)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := WriteAtomic(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, got %d entries", len(entries))
	}
}
