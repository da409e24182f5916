// Package transport adapts an SSH connection to a leaf host into the two
// channels the sync pipeline needs: a bidirectional framed byte stream to
// the leaf binary's stdin/stdout (the push pipeline and signature/delta
// exchange), and an SFTP side channel for the pull pipeline's inventory
// and file transfer.
package transport

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// DialTimeout bounds the initial TCP+SSH handshake.
const DialTimeout = 30 * time.Second

// Config carries the connection parameters for one leaf host.
type Config struct {
	Addr           string // host:port
	User           string
	PrivateKeyPEM  []byte
	Password       string // used only when PrivateKeyPEM is empty
	HostKeyCheck   ssh.HostKeyCallback
}

// Conn wraps one SSH connection to a leaf host, lazily offering an exec
// stream and an SFTP client on demand.
type Conn struct {
	client *ssh.Client
}

// Dial opens an SSH connection per cfg.
func Dial(cfg Config) (*Conn, error) {
	authMethods, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeyCallback := cfg.HostKeyCheck
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         DialTimeout,
	}

	netConn, err := net.DialTimeout("tcp", cfg.Addr, DialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "dial %s", cfg.Addr)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, cfg.Addr, sshConfig)
	if err != nil {
		netConn.Close()
		return nil, errors.Wrap(err, "ssh handshake with %s", cfg.Addr)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	return &Conn{client: client}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	if len(cfg.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, errors.Wrap(err, "parse leaf private key")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
}

// Close closes the underlying SSH client.
func (c *Conn) Close() error {
	return c.client.Close()
}

// Stream is a bidirectional byte stream bound to one remote command's
// stdin/stdout, used for the framed wire protocol. Its stderr is
// captured in the background so a caller can inspect it after the
// command exits, e.g. to detect a recognizable "server yml not found"
// diagnostic (spec.md §6's hub-side retry tolerance).
type Stream struct {
	io.Reader
	io.Writer
	session *ssh.Session

	stderrMu  sync.Mutex
	stderrBuf bytes.Buffer
}

// Stderr returns everything the remote command has written to stderr so
// far.
func (s *Stream) Stderr() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return s.stderrBuf.String()
}

// Close ends the remote command and releases the session.
func (s *Stream) Close() error {
	return s.session.Close()
}

// Exec runs command on the leaf host (the leaf binary's CLI surface,
// spec.md §6) and returns a Stream bound to its stdin/stdout.
func (c *Conn) Exec(command string) (*Stream, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "open ssh session")
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, errors.Wrap(err, "open stdin pipe")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, errors.Wrap(err, "open stdout pipe")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, errors.Wrap(err, "open stderr pipe")
	}
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, errors.Wrap(err, "start remote command %q", command)
	}

	s := &Stream{Reader: stdout, Writer: stdin, session: session}
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				s.stderrMu.Lock()
				s.stderrBuf.Write(buf[:n])
				s.stderrMu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return s, nil
}

// SFTP is the side-channel interface the pull pipeline uses to fetch the
// remote inventory file and individual file contents without going
// through the framed protocol.
type SFTP interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
}

// NewSFTP opens an SFTP client over c's SSH connection.
func (c *Conn) NewSFTP() (*SFTPClient, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, errors.Wrap(err, "open sftp client")
	}
	return &SFTPClient{client: client}, nil
}

// SFTPClient adapts *sftp.Client to the SFTP interface.
type SFTPClient struct {
	client *sftp.Client
}

// Open opens a remote file for reading.
func (s *SFTPClient) Open(path string) (io.ReadCloser, error) {
	f, err := s.client.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "sftp open %s", path)
	}
	return f, nil
}

// Create creates (or truncates) a remote file for writing.
func (s *SFTPClient) Create(path string) (io.WriteCloser, error) {
	f, err := s.client.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "sftp create %s", path)
	}
	return f, nil
}

// Stat returns file metadata for a remote path.
func (s *SFTPClient) Stat(path string) (os.FileInfo, error) {
	info, err := s.client.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "sftp stat %s", path)
	}
	return info, nil
}

// Remove deletes a remote file.
func (s *SFTPClient) Remove(path string) error {
	if err := s.client.Remove(path); err != nil {
		return errors.Wrap(err, "sftp remove %s", path)
	}
	return nil
}

// Close closes the underlying SFTP client.
func (s *SFTPClient) Close() error {
	return s.client.Close()
}
