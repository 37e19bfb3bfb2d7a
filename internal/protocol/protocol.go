package protocol

import (
	"fmt"
	"io"
	"time"
)

// Protocol tags the backend variant behind a client handle.
type Protocol string

const (
	// ProtocolAuto requests sequential auto-detection at connect time.
	ProtocolAuto Protocol = ""
	ProtocolFTP  Protocol = "ftp"
	ProtocolSFTP Protocol = "sftp"
)

const (
	DefaultFTPPort  = 21
	DefaultSFTPPort = 22
)

// ParseProtocol maps a user-supplied protocol string onto a known tag.
func ParseProtocol(raw string) (Protocol, error) {
	switch Protocol(raw) {
	case ProtocolAuto, ProtocolFTP, ProtocolSFTP:
		return Protocol(raw), nil
	default:
		return ProtocolAuto, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, raw)
	}
}

// DirectoryEntry is the normalized projection over each backend's
// divergent listing types.
type DirectoryEntry struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"isDirectory"`
	Path        string `json:"path"`
}

// ConnectSpec carries everything needed to open one backend connection.
// Credentials live only for the duration of the connect.
type ConnectSpec struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Client is the capability interface both protocol backends implement.
// A client handle is exclusively owned by one session and must see at most
// one in-flight operation at any instant; serialization is the caller's
// responsibility.
type Client interface {
	Protocol() Protocol

	// List returns one directory level, normalized, without "." and "..".
	List(path string) ([]DirectoryEntry, error)

	// StatSize returns the byte size of a remote file.
	StatSize(path string) (int64, error)

	// OpenReadStream opens a ranged read. offset is the first byte to
	// read; length < 0 streams to EOF.
	OpenReadStream(path string, offset, length int64) (io.ReadCloser, error)

	// Upload stores a local file at remotePath.
	Upload(localPath, remotePath string) error

	// Delete removes a single remote file.
	Delete(path string) error

	// RemoveDirectory removes a remote directory, recursively when asked.
	RemoveDirectory(path string, recursive bool) error

	// Pwd is the cheap liveness round-trip used by the prober.
	Pwd() (string, error)

	// SetCloseHandler registers a callback fired at most once when the
	// backend connection dies (error, close or end). Best effort; the
	// handler must not block.
	SetCloseHandler(fn func(err error))

	Close() error
}

// limitedReadCloser bounds a ranged read and closes the underlying stream.
type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func newLimitedReadCloser(rc io.ReadCloser, length int64) io.ReadCloser {
	if length < 0 {
		return rc
	}
	return &limitedReadCloser{r: io.LimitReader(rc, length), c: rc}
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error               { return l.c.Close() }
