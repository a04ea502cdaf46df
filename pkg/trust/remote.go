package trust

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/glennswest/clusterprep/pkg/config"
	"github.com/glennswest/clusterprep/pkg/runner"
)

var (
	// ErrAuthRejected is returned when a peer refuses every offered
	// credential.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrHostKeyMismatch is returned when a peer presents a host key that
	// differs from the one already recorded for it.
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// CopyResult tells what the remote side did with the key.
type CopyResult int

const (
	CopyAdded CopyResult = iota
	CopyPresent
)

// Remote is everything the distributor needs from a peer.
type Remote interface {
	// Reachable reports whether the peer answers a single echo request.
	Reachable(ctx context.Context, ip netip.Addr) bool
	// PortOpen reports whether the SSH port accepts TCP connections.
	PortOpen(ctx context.Context, ip netip.Addr) bool
	// EnsureKnownHost records the peer's host keys locally.
	EnsureKnownHost(ctx context.Context, node config.Node) error
	// CheckAuth succeeds when signer alone logs in and runs a no-op.
	CheckAuth(ctx context.Context, node config.Node, signer ssh.Signer) error
	// CopyKey installs authorizedKey on the peer using password login.
	CopyKey(ctx context.Context, node config.Node, authorizedKey string) (CopyResult, error)
}

// Exit status of the install script when the key was already present.
const exitKeyPresent = 3

const (
	markerAdded   = "clusterprep:added"
	markerPresent = "clusterprep:present"
)

// installScript reads one key line on stdin and appends it to
// authorized_keys unless an identical line exists.
const installScript = `umask 077
mkdir -p "$HOME/.ssh" && chmod 700 "$HOME/.ssh" || exit 1
f="$HOME/.ssh/authorized_keys"
touch "$f" && chmod 600 "$f" || exit 1
IFS= read -r key || [ -n "$key" ] || exit 1
if grep -qxF "$key" "$f"; then echo ` + markerPresent + `; exit 3; fi
if [ -s "$f" ] && [ -n "$(tail -c 1 "$f")" ]; then echo >> "$f"; fi
printf '%s\n' "$key" >> "$f" || exit 1
echo ` + markerAdded + `
`

// hostKeyAlgorithms are scanned in order, one handshake each.
var hostKeyAlgorithms = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoRSASHA512,
}

// SSHRemoteOpts configures an SSHRemote.
type SSHRemoteOpts struct {
	Runner     runner.Runner
	User       string
	Port       int
	KnownHosts string // path of the known_hosts file to maintain
	Password   PasswordSource
	Log        *zap.SugaredLogger
}

// SSHRemote implements Remote with ping plus an in-process SSH client.
type SSHRemote struct {
	run        runner.Runner
	user       string
	port       int
	knownHosts string
	password   PasswordSource
	log        *zap.SugaredLogger

	dialTimeout time.Duration
	scanTimeout time.Duration
	authTimeout time.Duration
	copyTimeout time.Duration
}

// NewSSHRemote returns an SSHRemote with the standard timeouts.
func NewSSHRemote(opts SSHRemoteOpts) *SSHRemote {
	port := opts.Port
	if port == 0 {
		port = 22
	}
	return &SSHRemote{
		run:         opts.Runner,
		user:        opts.User,
		port:        port,
		knownHosts:  opts.KnownHosts,
		password:    opts.Password,
		log:         opts.Log.Named("ssh"),
		dialTimeout: 3 * time.Second,
		scanTimeout: 5 * time.Second,
		authTimeout: 5 * time.Second,
		copyTimeout: 10 * time.Second,
	}
}

func (r *SSHRemote) addr(ip netip.Addr) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(r.port))
}

// ─── Reachability ───────────────────────────────────────────────────────────

func (r *SSHRemote) Reachable(ctx context.Context, ip netip.Addr) bool {
	_, err := r.run.Run(ctx, "ping", "-c", "1", "-W", "2", ip.String())
	return err == nil
}

func (r *SSHRemote) PortOpen(ctx context.Context, ip netip.Addr) bool {
	d := net.Dialer{Timeout: r.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", r.addr(ip))
	if err != nil {
		r.log.Debugw("port check failed", "addr", r.addr(ip), "error", err)
		return false
	}
	conn.Close()
	return true
}

// ─── Host keys ──────────────────────────────────────────────────────────────

var errScanDone = errors.New("host key captured")

// EnsureKnownHost scans each supported host key type and appends the ones
// not yet recorded, keyed by both address and host name.
func (r *SSHRemote) EnsureKnownHost(ctx context.Context, node config.Node) error {
	if err := touch(r.knownHosts); err != nil {
		return err
	}
	check, err := knownhosts.New(r.knownHosts)
	if err != nil {
		return fmt.Errorf("loading %s: %w", r.knownHosts, err)
	}

	addr := r.addr(node.IP)
	remote := &net.TCPAddr{IP: node.IP.AsSlice(), Port: r.port}
	names := []string{
		knownhosts.Normalize(addr),
		knownhosts.Normalize(net.JoinHostPort(node.Hostname, strconv.Itoa(r.port))),
	}

	var lines []string
	found := 0
	for _, algo := range hostKeyAlgorithms {
		key, err := r.scanHostKey(ctx, addr, algo)
		if err != nil {
			r.log.Debugw("host key scan failed", "addr", addr, "algorithm", algo, "error", err)
			continue
		}
		found++

		err = check(addr, remote, key)
		var keyErr *knownhosts.KeyError
		switch {
		case err == nil:
			continue
		case errors.As(err, &keyErr) && !recordsType(keyErr.Want, key.Type()):
			lines = append(lines, knownhosts.Line(names, key))
		case errors.As(err, &keyErr):
			return fmt.Errorf("%w for %s (%s)", ErrHostKeyMismatch, node.Hostname, key.Type())
		default:
			return fmt.Errorf("checking host key of %s: %w", node.Hostname, err)
		}
	}
	if found == 0 {
		return fmt.Errorf("no host keys offered by %s", addr)
	}
	if len(lines) == 0 {
		return nil
	}

	f, err := os.OpenFile(r.knownHosts, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", r.knownHosts, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return fmt.Errorf("writing %s: %w", r.knownHosts, err)
	}
	r.log.Infow("host keys recorded", "node", node.Hostname, "keys", len(lines))
	return nil
}

// recordsType reports whether known holds a key of the given type. Only a
// differing key of the same type is a mismatch; other types are just new.
func recordsType(known []knownhosts.KnownKey, keyType string) bool {
	for _, k := range known {
		if k.Key.Type() == keyType {
			return true
		}
	}
	return false
}

// scanHostKey completes key exchange for a single host key algorithm and
// aborts before authentication.
func (r *SSHRemote) scanHostKey(ctx context.Context, addr, algo string) (ssh.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.scanTimeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var key ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User:              "clusterprep",
		HostKeyAlgorithms: []string{algo},
		HostKeyCallback: func(_ string, _ net.Addr, k ssh.PublicKey) error {
			key = k
			return errScanDone
		},
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err == nil {
		ssh.NewClient(c, chans, reqs).Close()
	}
	if key == nil {
		if err == nil {
			err = errors.New("no host key presented")
		}
		return nil, err
	}
	return key, nil
}

// ─── Sessions ───────────────────────────────────────────────────────────────

func (r *SSHRemote) CheckAuth(ctx context.Context, node config.Node, signer ssh.Signer) error {
	client, err := r.dial(ctx, node, []ssh.AuthMethod{ssh.PublicKeys(signer)}, r.authTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening session on %s: %w", node.Hostname, err)
	}
	defer session.Close()
	if err := session.Run("true"); err != nil {
		return fmt.Errorf("running check on %s: %w", node.Hostname, err)
	}
	return nil
}

func (r *SSHRemote) CopyKey(ctx context.Context, node config.Node, authorizedKey string) (CopyResult, error) {
	password, err := r.password.Password(ctx, node)
	if err != nil {
		return 0, err
	}
	auth := []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}
	client, err := r.dial(ctx, node, auth, r.copyTimeout)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("opening session on %s: %w", node.Hostname, err)
	}
	defer session.Close()

	session.Stdin = strings.NewReader(authorizedKey + "\n")
	out, err := session.CombinedOutput(installScript)
	return parseCopyResult(out, err)
}

// parseCopyResult trusts the exit status first and falls back to the
// printed marker only when the server sent no status.
func parseCopyResult(out []byte, err error) (CopyResult, error) {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
		return CopyAdded, nil
	case errors.As(err, &exitErr) && exitErr.ExitStatus() == exitKeyPresent:
		return CopyPresent, nil
	case errors.As(err, &exitErr):
		return 0, fmt.Errorf("key install exited %d: %s", exitErr.ExitStatus(), firstLine(out))
	case errors.As(err, &missing):
		switch {
		case bytes.Contains(out, []byte(markerPresent)):
			return CopyPresent, nil
		case bytes.Contains(out, []byte(markerAdded)):
			return CopyAdded, nil
		}
	}
	return 0, fmt.Errorf("key install: %w", err)
}

// dial connects with strict host key checking against known_hosts. The
// timeout bounds the whole exchange, not only the handshake.
func (r *SSHRemote) dial(ctx context.Context, node config.Node, auth []ssh.AuthMethod, timeout time.Duration) (*ssh.Client, error) {
	hostKeys, err := knownhosts.New(r.knownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", r.knownHosts, err)
	}

	addr := r.addr(node.IP)
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	conn.SetDeadline(time.Now().Add(timeout))

	cfg := &ssh.ClientConfig{
		User:            r.user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w by %s", ErrAuthRejected, node.Hostname)
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return f.Close()
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Remote = (*SSHRemote)(nil)
