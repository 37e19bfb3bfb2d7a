package protocol

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/jlaffaye/ftp"
)

// ftpClient adapts github.com/jlaffaye/ftp onto the capability interface.
//
// The control connection multiplexes command/response pairs and the data
// connection cannot be reentered mid-transfer, so callers must serialize
// every operation, transfers included.
type ftpClient struct {
	conn *ftp.ServerConn

	mu      sync.Mutex
	handler func(error)
	dead    bool
}

// DialFTP opens and authenticates one legacy-ftp connection.
func DialFTP(spec ConnectSpec) (Client, error) {
	port := spec.Port
	if port == 0 {
		port = DefaultFTPPort
	}
	addr := net.JoinHostPort(spec.Host, strconv.Itoa(port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(spec.Timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: ftp dial %s: %v", ErrConnectionFailed, addr, err)
	}
	if err := conn.Login(spec.Username, spec.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("%w: ftp login: %v", ErrConnectionFailed, err)
	}
	return &ftpClient{conn: conn}, nil
}

func (c *ftpClient) Protocol() Protocol { return ProtocolFTP }

func (c *ftpClient) List(dir string) ([]DirectoryEntry, error) {
	entries, err := c.conn.List(dir)
	if err != nil {
		return nil, c.observe(err)
	}
	return normalizeFTPEntries(dir, entries), nil
}

func (c *ftpClient) StatSize(file string) (int64, error) {
	size, err := c.conn.FileSize(file)
	if err != nil {
		return 0, c.observe(err)
	}
	return size, nil
}

func (c *ftpClient) OpenReadStream(file string, offset, length int64) (io.ReadCloser, error) {
	resp, err := c.conn.RetrFrom(file, uint64(offset))
	if err != nil {
		return nil, c.observe(err)
	}
	return newLimitedReadCloser(resp, length), nil
}

func (c *ftpClient) Upload(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.observe(c.conn.Stor(remotePath, f))
}

func (c *ftpClient) Delete(file string) error {
	return c.observe(c.conn.Delete(file))
}

func (c *ftpClient) RemoveDirectory(dir string, recursive bool) error {
	if recursive {
		return c.observe(c.conn.RemoveDirRecur(dir))
	}
	return c.observe(c.conn.RemoveDir(dir))
}

func (c *ftpClient) Pwd() (string, error) {
	wd, err := c.conn.CurrentDir()
	if err != nil {
		return "", c.observe(err)
	}
	return wd, nil
}

func (c *ftpClient) SetCloseHandler(fn func(error)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *ftpClient) Close() error {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
	return c.conn.Quit()
}

// observe inspects operation errors for connection-death signatures. The
// ftp library emits no lifecycle events, so a dead control connection is
// only visible through failed commands.
func (c *ftpClient) observe(err error) error {
	if err == nil || !isDeadConnection(err) {
		return err
	}
	c.mu.Lock()
	fn := c.handler
	alreadyDead := c.dead
	c.dead = true
	c.mu.Unlock()
	if fn != nil && !alreadyDead {
		fn(err)
	}
	return err
}

func normalizeFTPEntries(dir string, entries []*ftp.Entry) []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		out = append(out, DirectoryEntry{
			Name:        entry.Name,
			Size:        int64(entry.Size),
			IsDirectory: entry.Type == ftp.EntryTypeFolder,
			Path:        path.Join(dir, entry.Name),
		})
	}
	return out
}
