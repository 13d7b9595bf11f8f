package sshpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy decides how an unknown host key is handled. Silent blind
// trust is not an option.
type HostKeyPolicy int

const (
	// RejectUnknown refuses hosts missing from known_hosts.
	RejectUnknown HostKeyPolicy = iota
	// AcceptNew appends unknown keys to known_hosts and logs the
	// fingerprint. A changed key for a known host is still refused.
	AcceptNew
)

// sshDialer is the production DialFunc: it builds a client config with
// known_hosts verification and a restricted modern algorithm set, then
// performs the TCP dial and SSH handshake.
type sshDialer struct {
	opts Options
	log  zerolog.Logger
}

func newSSHDialer(opts Options) DialFunc {
	d := &sshDialer{opts: opts, log: opts.Logger}
	return d.dial
}

func (d *sshDialer) dial(ctx context.Context, user, addr string) (Client, error) {
	cfg, err := d.clientConfig(user)
	if err != nil {
		return nil, err
	}
	nd := net.Dialer{Timeout: cfg.Timeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sshpool: dial %s: %w", addr, err)
	}
	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("sshpool: handshake %s: %w", addr, err)
	}
	return &sshClient{client: ssh.NewClient(conn, chans, reqs)}, nil
}

// clientConfig builds the ssh.ClientConfig used for new connections.
func (d *sshDialer) clientConfig(user string) (*ssh.ClientConfig, error) {
	khPath := d.opts.KnownHostsPath
	if khPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sshpool: resolve home dir: %w", err)
		}
		khPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	verify, err := knownhosts.New(khPath)
	if err != nil {
		return nil, fmt.Errorf("sshpool: load known_hosts: %w", err)
	}

	callback := verify
	if d.opts.Policy == AcceptNew {
		callback = d.acceptNewCallback(khPath, verify)
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods(),
		HostKeyCallback: callback,
		HostKeyAlgorithms: []string{
			ssh.KeyAlgoED25519,
			ssh.KeyAlgoECDSA256,
			ssh.KeyAlgoECDSA384,
			ssh.KeyAlgoRSASHA512,
			ssh.KeyAlgoRSASHA256,
		},
		Config: ssh.Config{
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"diffie-hellman-group14-sha256",
			},
			Ciphers: []string{
				"chacha20-poly1305@openssh.com",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-ctr",
				"aes256-ctr",
			},
		},
		Timeout: d.opts.ConnectTimeout,
	}, nil
}

// acceptNewCallback wraps the known_hosts check: a host absent from the file
// is recorded and trusted, with the acceptance logged. A mismatched key for
// a known host remains a hard failure.
func (d *sshDialer) acceptNewCallback(khPath string, verify ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		line := knownhosts.Line([]string{hostname}, key)
		f, ferr := os.OpenFile(khPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if ferr != nil {
			return fmt.Errorf("sshpool: persist host key: %w", ferr)
		}
		defer f.Close()
		if _, ferr := fmt.Fprintln(f, line); ferr != nil {
			return fmt.Errorf("sshpool: persist host key: %w", ferr)
		}

		d.log.Warn().
			Str("host", hostname).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Msg("accepted and recorded new ssh host key")
		return nil
	}
}

// authMethods collects the ambient credentials: a running SSH agent when
// available, plus the default identity files.
func authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		var signers []ssh.Signer
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			signer, err := ssh.ParsePrivateKey(data)
			if err != nil {
				continue
			}
			signers = append(signers, signer)
		}
		if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	return methods
}

// sshClient adapts *ssh.Client to the pool's Client interface, bounding
// each command with the caller's context.
type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) Run(ctx context.Context, command string) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(command)
		session.Close()
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		// Let the command finish or time out on its own; killing the
		// session mid-command can leave the remote shell in a bad state.
		session.Close()
		return nil, ctx.Err()
	case res := <-done:
		return res.out, res.err
	}
}

func (c *sshClient) Close() error {
	return c.client.Close()
}
