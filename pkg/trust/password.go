package trust

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/glennswest/clusterprep/pkg/config"
)

// ErrNoPassword is returned when a first-contact password is needed but
// none is configured and no terminal is available to ask for one.
var ErrNoPassword = errors.New("no password available for key copy")

// PasswordSource supplies the login password for first contact with a
// peer.
type PasswordSource interface {
	Password(ctx context.Context, node config.Node) (string, error)
}

// StaticPassword returns the same password for every peer.
type StaticPassword string

func (p StaticPassword) Password(context.Context, config.Node) (string, error) {
	if p == "" {
		return "", ErrNoPassword
	}
	return string(p), nil
}

// TerminalPrompt asks once on the controlling terminal, with echo
// disabled, and reuses the answer for every later peer.
type TerminalPrompt struct {
	User string
	In   *os.File
	Out  io.Writer

	once     sync.Once
	password string
	err      error
}

func (p *TerminalPrompt) Password(ctx context.Context, node config.Node) (string, error) {
	p.once.Do(func() {
		p.password, p.err = p.read(ctx, node)
	})
	return p.password, p.err
}

// read gives up when ctx is cancelled and puts the terminal back in the
// state it was found in. The blocked reader is abandoned.
func (p *TerminalPrompt) read(ctx context.Context, node config.Node) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: stdin is not a terminal (set %sSSH_PASSWORD)", ErrNoPassword, config.EnvPrefix)
	}
	state, err := term.GetState(fd)
	if err != nil {
		return "", fmt.Errorf("saving terminal state: %w", err)
	}

	fmt.Fprintf(p.Out, "Password for %s on cluster nodes (first: %s): ", p.User, node.Hostname)
	type answer struct {
		b   []byte
		err error
	}
	done := make(chan answer, 1)
	go func() {
		b, err := term.ReadPassword(fd)
		done <- answer{b, err}
	}()

	select {
	case <-ctx.Done():
		_ = term.Restore(fd, state)
		fmt.Fprintln(p.Out)
		return "", ctx.Err()
	case a := <-done:
		fmt.Fprintln(p.Out)
		if a.err != nil {
			return "", fmt.Errorf("reading password: %w", a.err)
		}
		return string(a.b), nil
	}
}

var (
	_ PasswordSource = StaticPassword("")
	_ PasswordSource = (*TerminalPrompt)(nil)
)
