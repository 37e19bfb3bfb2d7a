package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeClient satisfies Client for prober tests.
type fakeClient struct {
	proto   Protocol
	pwdErr  error
	pwdHang time.Duration
	closed  bool
}

func (f *fakeClient) Protocol() Protocol                    { return f.proto }
func (f *fakeClient) List(string) ([]DirectoryEntry, error) { return nil, nil }
func (f *fakeClient) StatSize(string) (int64, error)        { return 0, nil }
func (f *fakeClient) OpenReadStream(string, int64, int64) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) Upload(string, string) error          { return nil }
func (f *fakeClient) Delete(string) error                  { return nil }
func (f *fakeClient) RemoveDirectory(string, bool) error   { return nil }
func (f *fakeClient) SetCloseHandler(func(error))          {}
func (f *fakeClient) Close() error                         { f.closed = true; return nil }
func (f *fakeClient) Pwd() (string, error) {
	if f.pwdHang > 0 {
		time.Sleep(f.pwdHang)
	}
	return "/", f.pwdErr
}

// recordingDialer counts attempts per protocol and returns scripted results.
type recordingDialer struct {
	attempts []Protocol
	result   map[Protocol]func() (Client, error)
}

func (r *recordingDialer) dial(proto Protocol) dialFunc {
	return func(ConnectSpec) (Client, error) {
		r.attempts = append(r.attempts, proto)
		return r.result[proto]()
	}
}

func newTestProber(r *recordingDialer) *Prober {
	p := NewProber(ProbeConfig{
		ConnectTimeout:  500 * time.Millisecond,
		LivenessTimeout: 100 * time.Millisecond,
	})
	p.dial = map[Protocol]dialFunc{
		ProtocolFTP:  r.dial(ProtocolFTP),
		ProtocolSFTP: r.dial(ProtocolSFTP),
	}
	return p
}

func TestProbeLivenessFailureClosesHandle(t *testing.T) {
	client := &fakeClient{proto: ProtocolSFTP, pwdErr: errors.New("session torn down")}
	r := &recordingDialer{result: map[Protocol]func() (Client, error){
		ProtocolSFTP: func() (Client, error) { return client, nil },
	}}
	p := newTestProber(r)

	res := p.Probe(ProtocolSFTP, ConnectSpec{Host: "h"})
	if res.OK {
		t.Fatal("expected probe failure")
	}
	if !client.closed {
		t.Fatal("partially-opened handle must be closed on probe failure")
	}
	if res.Elapsed <= 0 {
		t.Fatalf("expected positive elapsed, got %v", res.Elapsed)
	}
}

func TestProbeLivenessDeadline(t *testing.T) {
	client := &fakeClient{proto: ProtocolSFTP, pwdHang: time.Second}
	r := &recordingDialer{result: map[Protocol]func() (Client, error){
		ProtocolSFTP: func() (Client, error) { return client, nil },
	}}
	p := newTestProber(r)

	res := p.Probe(ProtocolSFTP, ConnectSpec{Host: "h"})
	if res.OK {
		t.Fatal("expected liveness timeout")
	}
	if !strings.Contains(res.Err, "timed out") {
		t.Fatalf("unexpected error: %q", res.Err)
	}
}

func TestDetectExplicitProtocolNoFallback(t *testing.T) {
	r := &recordingDialer{result: map[Protocol]func() (Client, error){
		ProtocolSFTP: func() (Client, error) { return nil, errors.New("ssh: handshake failed: EOF") },
		ProtocolFTP:  func() (Client, error) { return &fakeClient{proto: ProtocolFTP}, nil },
	}}
	p := newTestProber(r)

	_, _, err := p.Detect(ProtocolSFTP, ConnectSpec{Host: "h", Port: 22})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if len(r.attempts) != 1 || r.attempts[0] != ProtocolSFTP {
		t.Fatalf("explicit protocol must be attempted alone, got %v", r.attempts)
	}
}

func TestDetectAutoFallsBackOnNonSSHEndpoint(t *testing.T) {
	r := &recordingDialer{result: map[Protocol]func() (Client, error){
		ProtocolSFTP: func() (Client, error) { return nil, errors.New("ssh: handshake failed: ssh: no common algorithm") },
		ProtocolFTP:  func() (Client, error) { return &fakeClient{proto: ProtocolFTP}, nil },
	}}
	p := newTestProber(r)

	client, proto, err := p.Detect(ProtocolAuto, ConnectSpec{Host: "h", Port: 21})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if proto != ProtocolFTP {
		t.Fatalf("expected ftp fallback, got %q", proto)
	}
	if client.Protocol() != ProtocolFTP {
		t.Fatalf("expected ftp client, got %q", client.Protocol())
	}
	if len(r.attempts) != 2 || r.attempts[0] != ProtocolSFTP || r.attempts[1] != ProtocolFTP {
		t.Fatalf("expected sequential sftp then ftp, got %v", r.attempts)
	}
}

func TestDetectAutoNoFallbackOnAuthFailure(t *testing.T) {
	// A host that speaks SSH but rejects the credentials is not a
	// candidate for the ftp fallback on the default port.
	r := &recordingDialer{result: map[Protocol]func() (Client, error){
		ProtocolSFTP: func() (Client, error) {
			return nil, errors.New("ssh: unable to authenticate, attempted methods [password]")
		},
		ProtocolFTP: func() (Client, error) { return &fakeClient{proto: ProtocolFTP}, nil },
	}}
	p := newTestProber(r)

	_, _, err := p.Detect(ProtocolAuto, ConnectSpec{Host: "h", Port: 22})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if len(r.attempts) != 1 {
		t.Fatalf("expected single sftp attempt, got %v", r.attempts)
	}
}

func TestDetectAutoNonDefaultPortTriggersFallback(t *testing.T) {
	r := &recordingDialer{result: map[Protocol]func() (Client, error){
		ProtocolSFTP: func() (Client, error) {
			return nil, errors.New("ssh: unable to authenticate, attempted methods [password]")
		},
		ProtocolFTP: func() (Client, error) { return &fakeClient{proto: ProtocolFTP}, nil },
	}}
	p := newTestProber(r)

	_, proto, err := p.Detect(ProtocolAuto, ConnectSpec{Host: "h", Port: 2121})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if proto != ProtocolFTP {
		t.Fatalf("expected ftp on non-default port, got %q", proto)
	}
}

func TestParseProtocol(t *testing.T) {
	for raw, want := range map[string]Protocol{
		"":     ProtocolAuto,
		"ftp":  ProtocolFTP,
		"sftp": ProtocolSFTP,
	} {
		got, err := ParseProtocol(raw)
		if err != nil || got != want {
			t.Fatalf("ParseProtocol(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseProtocol("scp"); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol, got %v", err)
	}
}
