package trust

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/config"
	"github.com/glennswest/clusterprep/pkg/ui"
)

// ErrAggregateFailure is returned when peers were eligible but none ended
// up trusted.
var ErrAggregateFailure = errors.New("key distribution failed for every peer")

// Outcome classifies one trust attempt.
type Outcome string

const (
	OutcomeUnreachable    Outcome = "skipped_unreachable"
	OutcomePortClosed     Outcome = "skipped_port_closed"
	OutcomeAlreadyTrusted Outcome = "already_trusted"
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeFailed         Outcome = "failed"
)

// Success reports whether the peer now trusts the local key.
func (o Outcome) Success() bool {
	return o == OutcomeSucceeded || o == OutcomeAlreadyTrusted
}

// Attempt is the result for one peer.
type Attempt struct {
	Node    config.Node
	Outcome Outcome
	Detail  string
}

// Report summarizes a distribution run.
type Report struct {
	Peers     int // eligible roster members, the local node excluded
	Total     int // peers attempted past the reachability check
	Succeeded int // succeeded or already trusted
	Failures  []Attempt
	Attempts  []Attempt // every attempt, in roster order
}

// Rows renders the attempts for ui.Table.
func (r Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		rows = append(rows, []string{a.Node.Hostname, a.Node.IP.String(), string(a.Outcome), a.Detail})
	}
	return rows
}

// DistributorOpts configures a Distributor.
type DistributorOpts struct {
	Remote        Remote
	KeyDir        string
	Role          config.Role
	LocalHostname string // roster entry skipped as self
	Status        *ui.Printer
	Log           *zap.SugaredLogger
}

// Distributor gives the local key passwordless access to every roster
// peer. Peers are handled one at a time.
type Distributor struct {
	remote        Remote
	keyDir        string
	role          config.Role
	localHostname string
	status        *ui.Printer
	log           *zap.SugaredLogger
}

// NewDistributor builds a Distributor from opts.
func NewDistributor(opts DistributorOpts) *Distributor {
	return &Distributor{
		remote:        opts.Remote,
		keyDir:        opts.KeyDir,
		role:          opts.Role,
		localHostname: opts.LocalHostname,
		status:        opts.Status,
		log:           opts.Log.Named("trust"),
	}
}

// KnownHostsPath is the known_hosts file inside keyDir.
func KnownHostsPath(keyDir string) string {
	return filepath.Join(keyDir, knownHostsName)
}

// Setup prepares the local key pair and trusts it locally.
func (d *Distributor) Setup(localUser string) (KeyPair, error) {
	kp, generated, err := EnsureKeyPair(d.keyDir, KeyComment(localUser, string(d.role)))
	if err != nil {
		return kp, err
	}
	if generated {
		d.log.Infow("key pair generated", "path", kp.PrivatePath)
		d.status.Change("keys: generated %s", kp.PrivatePath)
	} else {
		d.status.Skip("keys: %s exists", kp.PrivatePath)
	}

	added, err := EnsureAuthorized(filepath.Join(d.keyDir, authorizedKeysName), kp.AuthorizedKey)
	if err != nil {
		return kp, err
	}
	if added {
		d.status.Change("keys: local key added to %s", authorizedKeysName)
	} else {
		d.status.Skip("keys: local key already in %s", authorizedKeysName)
	}
	return kp, nil
}

// Distribute runs Setup and then tries every peer. A run with no eligible
// peers, or with at least one trusted peer, succeeds.
func (d *Distributor) Distribute(ctx context.Context, roster config.Roster, localUser string) (Report, error) {
	var report Report

	kp, err := d.Setup(localUser)
	if err != nil {
		return report, fmt.Errorf("preparing local keys: %w", err)
	}

	unreachable := 0
	for _, node := range roster.Nodes() {
		if strings.EqualFold(node.Hostname, d.localHostname) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Peers++

		a := d.attempt(ctx, node, kp)
		report.Attempts = append(report.Attempts, a)
		switch {
		case a.Outcome.Success():
			report.Succeeded++
		case a.Outcome == OutcomeUnreachable:
			unreachable++
			report.Failures = append(report.Failures, a)
		default:
			report.Failures = append(report.Failures, a)
		}
	}
	report.Total = report.Peers - unreachable

	d.log.Infow("key distribution finished",
		"peers", report.Peers, "attempted", report.Total,
		"succeeded", report.Succeeded, "failures", len(report.Failures))

	if report.Peers > 0 && report.Succeeded == 0 {
		return report, fmt.Errorf("%w: 0 of %d peers trusted", ErrAggregateFailure, report.Peers)
	}
	return report, nil
}

// attempt walks one peer through the reachability, scan, check and copy steps.
func (d *Distributor) attempt(ctx context.Context, node config.Node, kp KeyPair) Attempt {
	log := d.log.With("node", node.Hostname, "ip", node.IP)
	a := Attempt{Node: node}

	if !d.remote.Reachable(ctx, node.IP) {
		a.Outcome, a.Detail = OutcomeUnreachable, "no reply to ping"
		log.Warnw("peer unreachable")
		d.status.Warn("trust: %s (%s) unreachable, skipped", node.Hostname, node.IP)
		return a
	}
	if !d.remote.PortOpen(ctx, node.IP) {
		a.Outcome, a.Detail = OutcomePortClosed, "ssh port closed"
		log.Warnw("ssh port closed")
		d.status.Warn("trust: %s ssh port closed, skipped", node.Hostname)
		return a
	}

	if err := d.remote.EnsureKnownHost(ctx, node); err != nil {
		return d.fail(a, "host key scan", err)
	}

	err := d.remote.CheckAuth(ctx, node, kp.Signer)
	if err == nil {
		a.Outcome = OutcomeAlreadyTrusted
		log.Infow("peer already trusts local key")
		d.status.Skip("trust: %s already trusts this node", node.Hostname)
		return a
	}
	log.Debugw("key login not yet possible", "error", err)

	res, err := d.remote.CopyKey(ctx, node, kp.AuthorizedKey)
	if err != nil {
		return d.fail(a, "key copy", err)
	}
	if res == CopyPresent {
		a.Outcome = OutcomeAlreadyTrusted
		d.status.Skip("trust: %s already had the key", node.Hostname)
		return a
	}

	if err := d.remote.CheckAuth(ctx, node, kp.Signer); err != nil {
		log.Warnw("key copied but login check failed", "error", err)
		d.status.Warn("trust: %s key copied but login check failed: %v", node.Hostname, err)
	}
	a.Outcome = OutcomeSucceeded
	log.Infow("key installed on peer")
	d.status.Change("trust: key installed on %s", node.Hostname)
	return a
}

func (d *Distributor) fail(a Attempt, step string, err error) Attempt {
	a.Outcome = OutcomeFailed
	if errors.Is(err, ErrAuthRejected) {
		a.Detail = "authentication rejected"
	} else {
		a.Detail = fmt.Sprintf("%s: %v", step, err)
	}
	d.log.Warnw("trust attempt failed", "node", a.Node.Hostname, "step", step, "error", err)
	d.status.Fail("trust: %s %s", a.Node.Hostname, a.Detail)
	return a
}
