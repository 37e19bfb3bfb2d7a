package bridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xferlab/xferbridge/internal/audit"
	"github.com/xferlab/xferbridge/internal/observability"
	"github.com/xferlab/xferbridge/internal/protocol"
	"github.com/xferlab/xferbridge/internal/session"
)

// DefaultTransferTimeout bounds a full queued download or upload.
const DefaultTransferTimeout = 30 * time.Minute

// Dialer is the connect-time collaborator; protocol.Prober satisfies it.
type Dialer interface {
	Detect(proto protocol.Protocol, spec protocol.ConnectSpec) (protocol.Client, protocol.Protocol, error)
}

// Options tunes orchestration behavior beyond the registry's own config.
type Options struct {
	Retry           session.RetryPolicy
	TransferTimeout time.Duration
	UploadMaxBytes  int64
}

// Service is the transfer orchestrator. It owns no connections itself;
// every backend call goes through the registry's per-session queue,
// except sftp download streaming which reads the handle directly.
type Service struct {
	registry *session.Registry
	dialer   Dialer
	sink     audit.Sink

	retry           session.RetryPolicy
	transferTimeout time.Duration
	uploadMaxBytes  int64
}

func NewService(registry *session.Registry, dialer Dialer, sink audit.Sink, opts Options) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = DefaultTransferTimeout
	}
	return &Service{
		registry:        registry,
		dialer:          dialer,
		sink:            sink,
		retry:           opts.Retry,
		transferTimeout: opts.TransferTimeout,
		uploadMaxBytes:  opts.UploadMaxBytes,
	}
}

// ConnectRequest carries one inbound connect. Credentials are consumed
// by the dial and never stored.
type ConnectRequest struct {
	Server   string
	Port     int
	Username string
	Password string
	Path     string
	Protocol string
	IsAdmin  bool
}

// ConnectResult seeds the caller's initial view of the remote tree.
type ConnectResult struct {
	SessionID string
	Protocol  protocol.Protocol
	Files     []protocol.DirectoryEntry
}

// Connect probes per the explicit/auto policy, registers a session
// around the surviving handle and seeds it with one non-recursive
// listing of the requested start path. A failed seed listing tears the
// session back down: connect never reports partial success.
func (s *Service) Connect(req ConnectRequest) (*ConnectResult, error) {
	proto, err := protocol.ParseProtocol(req.Protocol)
	if err != nil {
		return nil, err
	}

	spec := protocol.ConnectSpec{
		Host:     req.Server,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	}
	client, actual, err := s.dialer.Detect(proto, spec)
	observability.RecordConnectAttempt(string(actual), err == nil)
	if err != nil {
		s.sink.Emit(audit.Event{
			Kind:              audit.KindConnection,
			Server:            req.Server,
			Username:          req.Username,
			Protocol:          string(actual),
			RequestedProtocol: string(proto),
			Detail:            err.Error(),
		})
		return nil, err
	}

	sess := s.registry.Create(session.CreateSpec{
		Protocol: actual,
		Client:   client,
		Server:   req.Server,
		Username: req.Username,
		IsAdmin:  req.IsAdmin,
	})
	observability.SetActiveSessions(s.registry.Len())

	startPath := req.Path
	if startPath == "" {
		startPath = "."
	}
	files, err := s.List(sess.ID, startPath)
	if err != nil {
		s.registry.Disconnect(sess.ID)
		observability.SetActiveSessions(s.registry.Len())
		return nil, fmt.Errorf("seed listing of %q failed: %w", startPath, err)
	}

	s.sink.Emit(audit.Event{
		Kind:              audit.KindConnection,
		SessionID:         sess.ID,
		Server:            req.Server,
		Username:          req.Username,
		Protocol:          string(actual),
		RequestedProtocol: string(proto),
		Success:           true,
	})
	return &ConnectResult{SessionID: sess.ID, Protocol: actual, Files: files}, nil
}

// run routes op through the session queue, with transient-fault retry
// for the legacy ftp backend only.
func (s *Service) run(sess *session.Session, timeout time.Duration, op session.Op) error {
	if sess.Protocol == protocol.ProtocolFTP {
		return s.registry.RunWithRetry(sess.ID, timeout, s.retry, op)
	}
	return s.registry.Run(sess.ID, timeout, op)
}

// List returns one normalized directory level.
func (s *Service) List(id, dir string) ([]protocol.DirectoryEntry, error) {
	sess, err := s.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	var entries []protocol.DirectoryEntry
	err = s.run(sess, 0, func(c protocol.Client) error {
		var lerr error
		entries, lerr = c.List(dir)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []protocol.DirectoryEntry{}
	}
	return entries, nil
}

// ListRecursive walks the tree depth first with sequential queued
// listings and aggregates file leaves only. Traversal is never
// parallelized: every call shares the session's one serialized channel.
func (s *Service) ListRecursive(id, root string) ([]protocol.DirectoryEntry, error) {
	files := []protocol.DirectoryEntry{}
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.List(id, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDirectory {
				if err := walk(e.Path); err != nil {
					return err
				}
				continue
			}
			files = append(files, e)
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return files, nil
}

// DownloadInfo is handed to the caller's start callback once the
// response shape is known, before the first body byte.
type DownloadInfo struct {
	Name      string
	Size      int64
	TotalSize int64
	Offset    int64
	Ranged    bool
}

// Download resolves the file size through the queue, applies the Range
// header and streams the body into the writer produced by start. The
// sftp backend streams outside the queue (its reads are independently
// addressable); the ftp backend runs the whole transfer inside the
// queue because its data connection is not reentrant. A downstream
// write failure destroys the upstream read stream.
func (s *Service) Download(id, file, rangeHeader string, start func(DownloadInfo) io.Writer) error {
	sess, err := s.registry.Lookup(id)
	if err != nil {
		return err
	}

	var total int64
	err = s.run(sess, 0, func(c protocol.Client) error {
		var serr error
		total, serr = c.StatSize(file)
		return serr
	})
	if err != nil {
		return err
	}

	br, err := ParseRange(rangeHeader, total)
	if err != nil {
		return err
	}
	offset, length := int64(0), total
	if br != nil {
		offset, length = br.Start, br.Length()
	}
	info := DownloadInfo{
		Name:      path.Base(file),
		Size:      length,
		TotalSize: total,
		Offset:    offset,
		Ranged:    br != nil,
	}

	var written int64
	if sess.Protocol == protocol.ProtocolSFTP {
		rc, oerr := sess.Client.OpenReadStream(file, offset, length)
		if oerr != nil {
			return oerr
		}
		defer rc.Close()
		written, err = io.Copy(start(info), rc)
	} else {
		// no retry here: the start callback may only fire once. The
		// response is guarded because a queue timeout abandons the op
		// goroutine mid-copy while the caller walks away with the
		// writer; the guard seals the response the moment this call
		// returns so the abandoned copy cannot touch it afterwards.
		gr := &guardedResponse{start: start}
		err = s.registry.Run(sess.ID, s.transferTimeout, func(c protocol.Client) error {
			rc, oerr := c.OpenReadStream(file, offset, length)
			if oerr != nil {
				return oerr
			}
			defer rc.Close()
			if oerr := gr.open(info); oerr != nil {
				return oerr
			}
			_, cerr := io.Copy(gr, rc)
			return cerr
		})
		written = gr.seal()
	}

	observability.RecordTransferBytes("download", string(sess.Protocol), written)
	s.sink.Emit(audit.Event{
		Kind:      audit.KindTransfer,
		SessionID: sess.ID,
		Server:    sess.Server,
		Username:  sess.Username,
		Protocol:  string(sess.Protocol),
		File:      file,
		Bytes:     written,
		Success:   err == nil,
		Detail:    detailOf(err),
	})
	return err
}

// Upload stores localTemp at remotePath through the queue. The local
// temporary artifact is removed on success and failure alike.
func (s *Service) Upload(id, remotePath, localTemp string) error {
	defer func() {
		if rerr := os.Remove(localTemp); rerr != nil && !os.IsNotExist(rerr) {
			log.Warn().Str("path", localTemp).Err(rerr).Msg("upload_temp_remove_failed")
		}
	}()

	sess, err := s.registry.Lookup(id)
	if err != nil {
		return err
	}

	var size int64
	if st, serr := os.Stat(localTemp); serr == nil {
		size = st.Size()
	}

	err = s.run(sess, s.transferTimeout, func(c protocol.Client) error {
		return c.Upload(localTemp, remotePath)
	})

	if err == nil {
		observability.RecordTransferBytes("upload", string(sess.Protocol), size)
	}
	s.sink.Emit(audit.Event{
		Kind:      audit.KindTransfer,
		SessionID: sess.ID,
		Server:    sess.Server,
		Username:  sess.Username,
		Protocol:  string(sess.Protocol),
		File:      remotePath,
		Bytes:     size,
		Success:   err == nil,
		Detail:    detailOf(err),
	})
	return err
}

// Delete removes a file, or a directory when the flag says so.
func (s *Service) Delete(id, target string, isDirectory bool) error {
	sess, err := s.registry.Lookup(id)
	if err != nil {
		return err
	}
	return s.run(sess, 0, func(c protocol.Client) error {
		if isDirectory {
			return c.RemoveDirectory(target, true)
		}
		return c.Delete(target)
	})
}

// Disconnect evicts the session; a no-op when it is already gone.
func (s *Service) Disconnect(id string) {
	if s.registry.Disconnect(id) {
		observability.SetActiveSessions(s.registry.Len())
	}
}

func detailOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var errResponseSealed = errors.New("bridge: response sealed after caller returned")

// guardedResponse hands the start callback and downstream writer to a
// queued transfer op while retaining the right to revoke them. seal is
// called when the transfer caller returns; an op goroutine abandoned by
// a queue timeout then fails its next open or write instead of touching
// a response the HTTP layer has already recycled.
type guardedResponse struct {
	start func(DownloadInfo) io.Writer

	mu     sync.Mutex
	dst    io.Writer
	n      int64
	sealed bool
}

func (g *guardedResponse) open(info DownloadInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		return errResponseSealed
	}
	g.dst = g.start(info)
	return nil
}

func (g *guardedResponse) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed || g.dst == nil {
		return 0, errResponseSealed
	}
	n, err := g.dst.Write(p)
	g.n += int64(n)
	return n, err
}

// seal revokes the response and reports the bytes written before it.
func (g *guardedResponse) seal() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sealed = true
	return g.n
}
