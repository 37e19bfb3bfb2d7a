package protocol

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultConnectTimeout bounds the connect half of a probe.
	DefaultConnectTimeout = 8 * time.Second
	// DefaultLivenessTimeout bounds the pwd round-trip after connect.
	DefaultLivenessTimeout = 2 * time.Second
)

// ProbeConfig tunes the prober deadlines.
type ProbeConfig struct {
	ConnectTimeout  time.Duration
	LivenessTimeout time.Duration
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	return c
}

// ProbeResult reports one short-lived connect+liveness check.
type ProbeResult struct {
	OK      bool
	Client  Client
	Err     string
	Elapsed time.Duration
}

type dialFunc func(ConnectSpec) (Client, error)

// Prober runs connect+liveness checks and protocol auto-detection.
// Attempts are strictly sequential, never parallel: resource usage stays
// bounded and sftp-before-ftp expresses the priority order.
type Prober struct {
	cfg  ProbeConfig
	dial map[Protocol]dialFunc
}

func NewProber(cfg ProbeConfig) *Prober {
	return &Prober{
		cfg: cfg.withDefaults(),
		dial: map[Protocol]dialFunc{
			ProtocolFTP:  DialFTP,
			ProtocolSFTP: DialSFTP,
		},
	}
}

// Probe attempts a single-protocol connect under the hard connect deadline,
// then a pwd liveness round-trip under the shorter liveness deadline. Any
// partially-opened handle is closed on failure.
func (p *Prober) Probe(proto Protocol, spec ConnectSpec) ProbeResult {
	start := time.Now()
	dial, ok := p.dial[proto]
	if !ok {
		return ProbeResult{Err: fmt.Sprintf("unsupported protocol %q", proto), Elapsed: time.Since(start)}
	}

	spec.Timeout = p.cfg.ConnectTimeout
	client, err := runDial(dial, spec, p.cfg.ConnectTimeout)
	if err != nil {
		return ProbeResult{Err: err.Error(), Elapsed: time.Since(start)}
	}

	if err := runLiveness(client, p.cfg.LivenessTimeout); err != nil {
		_ = client.Close()
		return ProbeResult{Err: err.Error(), Elapsed: time.Since(start)}
	}
	return ProbeResult{OK: true, Client: client, Elapsed: time.Since(start)}
}

// Detect applies the connect policy: an explicit protocol is attempted
// alone with no fallback; unspecified tries sftp first and falls back to
// ftp only when the sftp failure looks like a non-SSH endpoint or the
// requested port is not the sftp default.
func (p *Prober) Detect(proto Protocol, spec ConnectSpec) (Client, Protocol, error) {
	if proto != ProtocolAuto {
		res := p.Probe(proto, spec)
		if !res.OK {
			return nil, proto, fmt.Errorf("%w: %s", ErrConnectionFailed, res.Err)
		}
		return res.Client, proto, nil
	}

	res := p.Probe(ProtocolSFTP, spec)
	if res.OK {
		return res.Client, ProtocolSFTP, nil
	}
	if !shouldFallBackToFTP(res.Err, spec.Port) {
		return nil, ProtocolSFTP, fmt.Errorf("%w: %s", ErrConnectionFailed, res.Err)
	}

	fres := p.Probe(ProtocolFTP, spec)
	if !fres.OK {
		return nil, ProtocolFTP, fmt.Errorf("%w: %s", ErrConnectionFailed, fres.Err)
	}
	return fres.Client, ProtocolFTP, nil
}

// shouldFallBackToFTP recognizes sftp probe failures that indicate the
// endpoint does not speak SSH at all, plus explicit non-default ports.
func shouldFallBackToFTP(errMsg string, port int) bool {
	if port != 0 && port != DefaultSFTPPort {
		return true
	}
	msg := strings.ToLower(errMsg)
	for _, pattern := range []string{
		"handshake failed",
		"banner",
		"protocol version",
		"connection reset",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// runDial enforces a hard wall-clock deadline around a dial attempt. The
// underlying libraries honor spec.Timeout for most phases but not all; a
// handle that arrives after the deadline is closed, not leaked.
func runDial(dial dialFunc, spec ConnectSpec, deadline time.Duration) (Client, error) {
	type dialOutcome struct {
		client Client
		err    error
	}
	ch := make(chan dialOutcome, 1)
	go func() {
		client, err := dial(spec)
		ch <- dialOutcome{client: client, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.client, out.err
	case <-timer.C:
		go func() {
			if out := <-ch; out.client != nil {
				_ = out.client.Close()
			}
		}()
		return nil, fmt.Errorf("%w: connect deadline exceeded after %s", ErrConnectionFailed, deadline)
	}
}

func runLiveness(client Client, deadline time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		_, err := client.Pwd()
		ch <- err
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("liveness check failed: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("liveness check timed out after %s", deadline)
	}
}
