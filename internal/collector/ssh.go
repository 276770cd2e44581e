package collector

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// sshCollector samples a remote node over SSH. A fresh connection is
// established per cycle and closed when the snapshot is complete, so a
// flapping host never pins a stale session.
type sshCollector struct {
	node *config.NodeConfig
}

func newSSHCollector(node *config.NodeConfig) *sshCollector {
	return &sshCollector{node: node}
}

func (c *sshCollector) Collect(ctx context.Context) (*model.HealthSnapshot, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return nil, &Error{Node: c.node.Name, Op: "dial", Err: err}
	}
	defer client.Close()

	return gatherUnix(ctx, &sshRunner{client: client}, c.node.Name, c.node.Platform, c.node.Services)
}

// dial opens the SSH connection with the node's configured auth
// method: a key file (with optional passphrase) or a password. A node
// with neither configured fails before any network I/O.
func (c *sshCollector) dial(ctx context.Context) (*ssh.Client, error) {
	sc := c.node.SSH

	var auth []ssh.AuthMethod
	switch {
	case sc.KeyFile != "":
		signer, err := loadPrivateKey(sc.KeyFile, sc.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case sc.Password != "":
		auth = append(auth, ssh.Password(sc.Password))
	default:
		return nil, fmt.Errorf("node %q has neither ssh password nor key_file", c.node.Name)
	}

	cfg := &ssh.ClientConfig{
		User:    sc.Username,
		Auth:    auth,
		Timeout: sc.GetTimeout(),
		// Host key verification is delegated to the operator's network
		// trust model, matching the original deployment.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(sc.Host, fmt.Sprintf("%d", sc.GetPort()))
	dialer := net.Dialer{Timeout: sc.GetTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) run(ctx context.Context, cmd string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return string(res.out), nil
	case <-ctx.Done():
		// Best effort: tear down the session so the remote command
		// does not linger past the node timeout.
		session.Close()
		return "", ctx.Err()
	}
}
