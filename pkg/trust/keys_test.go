package trust

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mode(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Mode().Perm()
}

func TestEnsureKeyPairGeneratesOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".ssh")
	comment := KeyComment("ops", "master")

	kp, generated, err := EnsureKeyPair(dir, comment)
	if err != nil {
		t.Fatalf("EnsureKeyPair: %v", err)
	}
	if !generated {
		t.Error("expected a new key")
	}
	if !strings.HasPrefix(kp.AuthorizedKey, "ssh-ed25519 ") || !strings.HasSuffix(kp.AuthorizedKey, " ops@master-clusterprep") {
		t.Errorf("unexpected public key line %q", kp.AuthorizedKey)
	}
	if kp.Signer == nil {
		t.Fatal("expected signer")
	}

	for path, want := range map[string]os.FileMode{
		dir:                                   0o700,
		kp.PrivatePath:                        0o600,
		kp.PublicPath:                         0o644,
		filepath.Join(dir, "authorized_keys"): 0o600,
	} {
		if got := mode(t, path); got != want {
			t.Errorf("%s: mode %o, want %o", path, got, want)
		}
	}

	again, generated, err := EnsureKeyPair(dir, comment)
	if err != nil {
		t.Fatalf("second EnsureKeyPair: %v", err)
	}
	if generated {
		t.Error("existing key must be reused")
	}
	if again.AuthorizedKey != kp.AuthorizedKey {
		t.Error("public key changed between runs")
	}
}

func TestEnsureKeyPairFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	kp, _, err := EnsureKeyPair(dir, "x@worker-clusterprep")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(kp.PrivatePath, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := EnsureKeyPair(dir, "x@worker-clusterprep"); err != nil {
		t.Fatal(err)
	}
	if got := mode(t, kp.PrivatePath); got != 0o600 {
		t.Errorf("private key mode %o, want 600", got)
	}
}

func TestEnsureKeyPairRestoresPublicKey(t *testing.T) {
	dir := t.TempDir()
	kp, _, err := EnsureKeyPair(dir, "x@worker-clusterprep")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(kp.PublicPath); err != nil {
		t.Fatal(err)
	}
	again, _, err := EnsureKeyPair(dir, "x@worker-clusterprep")
	if err != nil {
		t.Fatal(err)
	}
	if again.AuthorizedKey != kp.AuthorizedKey {
		t.Errorf("rebuilt public key %q differs from %q", again.AuthorizedKey, kp.AuthorizedKey)
	}
}

func TestEnsureAuthorizedExactMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	if err := os.WriteFile(path, []byte("ssh-ed25519 AAAAother peer"), 0o600); err != nil {
		t.Fatal(err)
	}
	line := "ssh-ed25519 AAAAmine ops@master-clusterprep"

	added, err := EnsureAuthorized(path, line)
	if err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}
	added, err = EnsureAuthorized(path, line)
	if err != nil || added {
		t.Fatalf("second append: added=%v err=%v", added, err)
	}

	data, _ := os.ReadFile(path)
	want := "ssh-ed25519 AAAAother peer\n" + line + "\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}

	// A line that only differs in its comment is a different line.
	added, err = EnsureAuthorized(path, "ssh-ed25519 AAAAmine other-comment")
	if err != nil || !added {
		t.Errorf("expected near-duplicate to be appended: added=%v err=%v", added, err)
	}
}
