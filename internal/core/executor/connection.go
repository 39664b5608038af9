package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/neilberkman/pcswitcher/internal/core/events"
)

// ConnectOptions describes how to reach the target
type ConnectOptions struct {
	Target            string // [user@]host[:port]
	IdentityFiles     []string
	KnownHostsFile    string
	Timeout           time.Duration
	MaxSessions       int // Concurrent channels; OpenSSH defaults to 10
	KeepaliveInterval time.Duration
	Bus               events.Publisher
}

// Address is a parsed [user@]host[:port] target
type Address struct {
	User string
	Host string
	Port int
}

func (a Address) String() string {
	return fmt.Sprintf("%s@%s", a.User, net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
}

// ParseTarget splits [user@]host[:port], defaulting user to the current
// user and port to 22
func ParseTarget(target string) (Address, error) {
	addr := Address{Port: 22}
	rest := target
	if u, h, ok := strings.Cut(target, "@"); ok {
		addr.User = u
		rest = h
	}
	if rest == "" {
		return Address{}, fmt.Errorf("empty host in target %q", target)
	}
	if host, port, err := net.SplitHostPort(rest); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Address{}, fmt.Errorf("invalid port in target %q", target)
		}
		addr.Host = host
		addr.Port = p
	} else {
		addr.Host = rest
	}
	if addr.User == "" {
		if u, err := user.Current(); err == nil {
			addr.User = u.Username
		} else {
			addr.User = os.Getenv("USER")
		}
	}
	return addr, nil
}

// Connection is the single authenticated SSH connection to the target.
// Every command and file transfer is a channel multiplexed over it.
type Connection struct {
	client *ssh.Client
	addr   Address
	bus    events.Publisher
	sem    chan struct{}

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error

	mu      sync.Mutex
	lostErr error
	closing bool
	stop    chan struct{}
	done    sync.WaitGroup
}

// Dial opens the connection, authenticating with ssh-agent and the given
// identity files, and verifying the host key against known_hosts
func Dial(ctx context.Context, opts ConnectOptions) (*Connection, error) {
	addr, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 8
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}

	publish(opts.Bus, events.ConnectionEvent{Host: addr.Host, Status: events.ConnectionConnecting})

	config, err := clientConfig(addr, opts)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.Timeout}
	hostport := net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port))
	netConn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		publish(opts.Bus, events.ConnectionEvent{Host: addr.Host, Status: events.ConnectionDisconnected, Err: err.Error()})
		return nil, fmt.Errorf("failed to reach %s: %w", hostport, err)
	}
	_ = netConn.SetDeadline(time.Now().Add(opts.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, hostport, config)
	if err != nil {
		_ = netConn.Close()
		publish(opts.Bus, events.ConnectionEvent{Host: addr.Host, Status: events.ConnectionDisconnected, Err: err.Error()})
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", hostport, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	c := &Connection{
		client: ssh.NewClient(sshConn, chans, reqs),
		addr:   addr,
		bus:    opts.Bus,
		sem:    make(chan struct{}, opts.MaxSessions),
		stop:   make(chan struct{}),
	}
	publish(c.bus, events.ConnectionEvent{Host: addr.Host, Status: events.ConnectionConnected})

	c.done.Add(1)
	go c.watch()
	if opts.KeepaliveInterval > 0 {
		c.done.Add(1)
		go c.keepalive(opts.KeepaliveInterval)
	}
	return c, nil
}

func clientConfig(addr Address, opts ConnectOptions) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if agentConn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		}
	}

	var signers []ssh.Signer
	for _, path := range opts.IdentityFiles {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read identity %s: %w", path, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			// Passphrase-protected keys are only usable through the agent
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh credentials: start ssh-agent or configure an identity file")
	}

	knownHosts := opts.KnownHostsFile
	if knownHosts == "" {
		knownHosts = "~/.ssh/known_hosts"
	}
	hostKeyCallback, err := knownhosts.New(expandHome(knownHosts))
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	return &ssh.ClientConfig{
		User:            addr.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

// Host returns the target host as given on the command line
func (c *Connection) Host() string {
	return c.addr.Host
}

// Err returns the reason the connection was lost, or nil
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr
}

// newSession opens a channel, waiting for a free slot
func (c *Connection) newSession(ctx context.Context) (*ssh.Session, func(), error) {
	if err := c.Err(); err != nil {
		return nil, nil, err
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	session, err := c.client.NewSession()
	if err != nil {
		<-c.sem
		if lost := c.Err(); lost != nil {
			return nil, nil, lost
		}
		return nil, nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	release := func() {
		_ = session.Close()
		<-c.sem
	}
	return session, release, nil
}

// SFTP returns the file transfer client, opened on first use
func (c *Connection) SFTP() (*sftp.Client, error) {
	c.sftpOnce.Do(func() {
		c.sftp, c.sftpErr = sftp.NewClient(c.client)
	})
	return c.sftp, c.sftpErr
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	close(c.stop)
	c.mu.Unlock()

	if c.sftp != nil {
		_ = c.sftp.Close()
	}
	err := c.client.Close()
	c.done.Wait()
	publish(c.bus, events.ConnectionEvent{Host: c.addr.Host, Status: events.ConnectionDisconnected})
	return err
}

// watch notices the connection dropping underneath us
func (c *Connection) watch() {
	defer c.done.Done()
	err := c.client.Wait()
	c.markLost(err)
}

func (c *Connection) keepalive(interval time.Duration) {
	defer c.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.markLost(err)
				return
			}
			publish(c.bus, events.ConnectionEvent{
				Host:    c.addr.Host,
				Status:  events.ConnectionConnected,
				Latency: time.Since(start),
			})
		}
	}
}

func (c *Connection) markLost(cause error) {
	c.mu.Lock()
	if c.closing || c.lostErr != nil {
		c.mu.Unlock()
		return
	}
	if cause == nil {
		cause = errors.New("remote closed the connection")
	}
	c.lostErr = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	c.mu.Unlock()

	publish(c.bus, events.ConnectionEvent{
		Host:   c.addr.Host,
		Status: events.ConnectionDisconnected,
		Err:    cause.Error(),
	})
}

func publish(bus events.Publisher, e events.ConnectionEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	bus.Publish(e)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
