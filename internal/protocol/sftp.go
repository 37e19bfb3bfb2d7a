package protocol

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpClient adapts github.com/pkg/sftp over an ssh transport. Unlike the
// ftp backend, sftp reads are independently addressable: a ranged read
// stream does not disturb other requests on the same connection.
type sftpClient struct {
	ssh  *sftpTransport
	sftp *sftp.Client

	mu      sync.Mutex
	handler func(error)
	fired   bool
}

type sftpTransport struct {
	conn *ssh.Client
}

// DialSFTP opens an ssh connection and starts the sftp subsystem on it.
func DialSFTP(spec ConnectSpec) (Client, error) {
	port := spec.Port
	if port == 0 {
		port = DefaultSFTPPort
	}
	addr := net.JoinHostPort(spec.Host, strconv.Itoa(port))
	cfg := &ssh.ClientConfig{
		User:            spec.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(spec.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         spec.Timeout,
	}
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh dial %s: %v", ErrConnectionFailed, addr, err)
	}
	sc, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: sftp subsystem: %v", ErrConnectionFailed, err)
	}
	c := &sftpClient{ssh: &sftpTransport{conn: conn}, sftp: sc}

	// The ssh transport emits a real lifecycle signal: Wait returns when
	// the connection ends for any reason.
	go func() {
		err := conn.Wait()
		c.notifyClose(err)
	}()
	return c, nil
}

func (c *sftpClient) Protocol() Protocol { return ProtocolSFTP }

func (c *sftpClient) List(dir string) ([]DirectoryEntry, error) {
	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]DirectoryEntry, 0, len(infos))
	for _, info := range infos {
		out = append(out, DirectoryEntry{
			Name:        info.Name(),
			Size:        info.Size(),
			IsDirectory: info.IsDir(),
			Path:        path.Join(dir, info.Name()),
		})
	}
	return out, nil
}

func (c *sftpClient) StatSize(file string) (int64, error) {
	info, err := c.sftp.Stat(file)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (c *sftpClient) OpenReadStream(file string, offset, length int64) (io.ReadCloser, error) {
	f, err := c.sftp.Open(file)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return newLimitedReadCloser(f, length), nil
}

func (c *sftpClient) Upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := c.sftp.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func (c *sftpClient) Delete(file string) error {
	return c.sftp.Remove(file)
}

func (c *sftpClient) RemoveDirectory(dir string, recursive bool) error {
	if !recursive {
		return c.sftp.RemoveDirectory(dir)
	}
	return c.removeAll(dir)
}

// removeAll is a depth-first recursive removal; pkg/sftp has no native
// equivalent.
func (c *sftpClient) removeAll(dir string) error {
	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, info := range infos {
		child := path.Join(dir, info.Name())
		if info.IsDir() {
			if err := c.removeAll(child); err != nil {
				return err
			}
			continue
		}
		if err := c.sftp.Remove(child); err != nil {
			return err
		}
	}
	return c.sftp.RemoveDirectory(dir)
}

func (c *sftpClient) Pwd() (string, error) {
	return c.sftp.Getwd()
}

func (c *sftpClient) SetCloseHandler(fn func(error)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *sftpClient) Close() error {
	c.mu.Lock()
	c.fired = true
	c.mu.Unlock()
	serr := c.sftp.Close()
	terr := c.ssh.conn.Close()
	if serr != nil {
		return serr
	}
	return terr
}

func (c *sftpClient) notifyClose(err error) {
	c.mu.Lock()
	fn := c.handler
	fired := c.fired
	c.fired = true
	c.mu.Unlock()
	if fn != nil && !fired {
		fn(err)
	}
}
