package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

type ChannelOptions struct {
	User        string
	Port        int
	Signer      xssh.Signer
	HostKeys    xssh.HostKeyCallback
	DialTimeout time.Duration
	Retries     int
	Backoff     time.Duration
}

// Channel runs commands and moves files on fleet nodes over SSH. One
// connection per host is opened lazily and reused until Close.
type Channel struct {
	opts ChannelOptions

	mu    sync.Mutex
	conns map[string]*hostConn
}

type hostConn struct {
	mu  sync.Mutex
	cli *xssh.Client
}

func NewChannel(opts ChannelOptions) *Channel {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	return &Channel{opts: opts, conns: map[string]*hostConn{}}
}

// NewChannelFromConfig loads the private key and host key policy named in
// cfg.SSH.
func NewChannelFromConfig(cfg prov.Config) (*Channel, error) {
	if cfg.SSH.KeyPath == "" {
		return nil, errors.New("ssh key path not configured; set ssh.key_path or the credential file's ssh_key")
	}
	signer, err := LoadPrivateKeySigner(cfg.SSH.KeyPath)
	if err != nil {
		return nil, err
	}
	hostKeys, err := HostKeyCallback(cfg.SSH.KnownHosts, cfg.SSH.Strict)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return NewChannel(ChannelOptions{
		User:        cfg.SSH.User,
		Port:        cfg.SSH.Port,
		Signer:      signer,
		HostKeys:    hostKeys,
		DialTimeout: cfg.Defaults.DialTimeout,
		Retries:     cfg.Defaults.Retries,
	}), nil
}

func (c *Channel) addr(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(c.opts.Port))
}

func (c *Channel) client(ctx context.Context, host string) (*xssh.Client, error) {
	c.mu.Lock()
	hc, ok := c.conns[host]
	if !ok {
		hc = &hostConn{}
		c.conns[host] = hc
	}
	c.mu.Unlock()

	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.cli != nil {
		return hc.cli, nil
	}
	cli, err := Dial(ctx, &Client{
		Addr:       c.addr(host),
		User:       c.opts.User,
		Signer:     c.opts.Signer,
		KnownHosts: c.opts.HostKeys,
		Timeout:    c.opts.DialTimeout,
		Retries:    c.opts.Retries,
		Backoff:    c.opts.Backoff,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", host, err)
	}
	hc.cli = cli
	return cli, nil
}

// drop forgets a broken connection so the next call redials.
func (c *Channel) drop(host string) {
	c.mu.Lock()
	hc := c.conns[host]
	delete(c.conns, host)
	c.mu.Unlock()
	if hc == nil {
		return
	}
	hc.mu.Lock()
	if hc.cli != nil {
		_ = hc.cli.Close()
	}
	hc.mu.Unlock()
}

func (c *Channel) sftpClient(ctx context.Context, host string) (*sftp.Client, error) {
	cli, err := c.client(ctx, host)
	if err != nil {
		return nil, err
	}
	sf, err := sftp.NewClient(cli)
	if err != nil {
		c.drop(host)
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	return sf, nil
}

// Copy uploads localPath to remotePath on host and verifies the SHA256 of
// the remote copy. A copy that fails verification is removed.
func (c *Channel) Copy(ctx context.Context, localPath, host, remotePath string) error {
	sum, err := FileChecksum(localPath)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", localPath, err)
	}
	sf, err := c.sftpClient(ctx, host)
	if err != nil {
		return err
	}
	defer sf.Close()
	if err := PushFile(sf, localPath, remotePath); err != nil {
		return err
	}
	out, err := c.output(ctx, host, "sha256sum "+Quote(remotePath))
	if err != nil {
		return fmt.Errorf("remote checksum: %w", err)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 || fields[0] != sum {
		_ = sf.Remove(remotePath)
		return fmt.Errorf("checksum mismatch for %s", remotePath)
	}
	log.Debug().Str("host", host).Str("path", remotePath).Msg("copied")
	return nil
}

// Exec runs command on host, streaming output into stdout and stderr.
func (c *Channel) Exec(ctx context.Context, host, command string, stdout, stderr io.Writer) error {
	cli, err := c.client(ctx, host)
	if err != nil {
		return err
	}
	err = Run(ctx, cli, command, stdout, stderr)
	var exitErr *xssh.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return fmt.Errorf("command exited with status %d", exitErr.ExitStatus())
	default:
		c.drop(host)
		return err
	}
}

func (c *Channel) output(ctx context.Context, host, command string) (string, error) {
	var out strings.Builder
	if err := c.Exec(ctx, host, command, &out, nil); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (c *Channel) Exists(ctx context.Context, host, remotePath string) (bool, error) {
	sf, err := c.sftpClient(ctx, host)
	if err != nil {
		return false, err
	}
	defer sf.Close()
	return RemoteExists(sf, remotePath)
}

// Fetch downloads remotePath (a file or a directory tree) into localDir and
// returns the number of files written.
func (c *Channel) Fetch(ctx context.Context, host, remotePath, localDir string) (int, error) {
	sf, err := c.sftpClient(ctx, host)
	if err != nil {
		return 0, err
	}
	defer sf.Close()
	return PullTree(sf, remotePath, filepath.Clean(localDir))
}

// Probe checks that host accepts TCP connections on the SSH port.
func (c *Channel) Probe(ctx context.Context, host string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr(host))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Channel) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = map[string]*hostConn{}
	c.mu.Unlock()
	var errs []error
	for _, hc := range conns {
		hc.mu.Lock()
		if hc.cli != nil {
			errs = append(errs, hc.cli.Close())
		}
		hc.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
