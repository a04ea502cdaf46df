package trust

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/glennswest/clusterprep/pkg/fileutil"
)

const (
	privateKeyName     = "id_ed25519"
	publicKeyName      = "id_ed25519.pub"
	authorizedKeysName = "authorized_keys"
	knownHostsName     = "known_hosts"
)

// KeyPair is the local identity used to log in to peers.
type KeyPair struct {
	PrivatePath string
	PublicPath  string
	// AuthorizedKey is the public key as one authorized_keys line,
	// including its comment.
	AuthorizedKey string
	Signer        ssh.Signer
}

// KeyComment is the comment embedded in generated keys.
func KeyComment(user, role string) string {
	return fmt.Sprintf("%s@%s-clusterprep", user, role)
}

// EnsureKeyPair makes sure dir holds an ED25519 key pair with owner-only
// permissions, generating one without a passphrase when absent. The bool
// reports whether a key was generated.
func EnsureKeyPair(dir, comment string) (KeyPair, bool, error) {
	kp := KeyPair{
		PrivatePath: filepath.Join(dir, privateKeyName),
		PublicPath:  filepath.Join(dir, publicKeyName),
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return kp, false, fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return kp, false, fmt.Errorf("chmod %s: %w", dir, err)
	}

	generated := false
	pemBytes, err := os.ReadFile(kp.PrivatePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if pemBytes, err = generateKey(kp.PrivatePath, comment); err != nil {
			return kp, false, err
		}
		generated = true
	case err != nil:
		return kp, false, fmt.Errorf("reading %s: %w", kp.PrivatePath, err)
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return kp, false, fmt.Errorf("parsing %s: %w", kp.PrivatePath, err)
	}
	kp.Signer = signer

	pub, err := os.ReadFile(kp.PublicPath)
	if generated || errors.Is(err, fs.ErrNotExist) {
		line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))) + " " + comment
		pub = []byte(line + "\n")
		if err := fileutil.WriteAtomic(kp.PublicPath, pub, 0o644); err != nil {
			return kp, false, err
		}
	} else if err != nil {
		return kp, false, fmt.Errorf("reading %s: %w", kp.PublicPath, err)
	}
	kp.AuthorizedKey = strings.TrimSpace(string(pub))

	if err := os.Chmod(kp.PrivatePath, 0o600); err != nil {
		return kp, false, fmt.Errorf("chmod %s: %w", kp.PrivatePath, err)
	}
	if err := os.Chmod(kp.PublicPath, 0o644); err != nil {
		return kp, false, fmt.Errorf("chmod %s: %w", kp.PublicPath, err)
	}

	authorized := filepath.Join(dir, authorizedKeysName)
	f, err := os.OpenFile(authorized, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return kp, false, fmt.Errorf("creating %s: %w", authorized, err)
	}
	f.Close()
	if err := os.Chmod(authorized, 0o600); err != nil {
		return kp, false, fmt.Errorf("chmod %s: %w", authorized, err)
	}

	return kp, generated, nil
}

func generateKey(path, comment string) ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}
	data := pem.EncodeToMemory(block)
	if err := fileutil.WriteAtomic(path, data, 0o600); err != nil {
		return nil, err
	}
	return data, nil
}

// EnsureAuthorized appends line to the authorized_keys file at path unless
// an identical line is already present. It reports whether it appended.
func EnsureAuthorized(path, line string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSuffix(l, "\r") == line {
			return false, nil
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
	buf.WriteByte('\n')
	if err := fileutil.WriteAtomic(path, buf.Bytes(), 0o600); err != nil {
		return false, err
	}
	return true, nil
}
