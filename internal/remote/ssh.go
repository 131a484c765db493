package remote

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// SSHExecutor runs commands and writes files over SSH/SFTP. It is the
// default backend, grounded on the original implementation's
// paramiko-based SSHConnectionManager: key, password, or default-agent
// authentication, sudo-prefixed commands, and SFTP for file delivery.
type SSHExecutor struct {
	pool     *Pool
	secrets  SecretProvider
	log      *logger.Logger
	tracer   telemetry.Tracer
	hostKeys ssh.HostKeyCallback
}

// NewSSHExecutor creates an SSH-backed Executor. hostKeys is typically
// ssh.InsecureIgnoreHostKey in development or a callback loaded from a
// known_hosts file in production; the caller decides, the executor
// never defaults to insecure on its own.
func NewSSHExecutor(pool *Pool, secrets SecretProvider, hostKeys ssh.HostKeyCallback, log *logger.Logger, tracer telemetry.Tracer) *SSHExecutor {
	return &SSHExecutor{
		pool:     pool,
		secrets:  secrets,
		log:      log.WithComponent("ssh-executor"),
		tracer:   tracer,
		hostKeys: hostKeys,
	}
}

func (e *SSHExecutor) dial(ctx context.Context, asset models.Asset) (*ssh.Client, error) {
	auth, err := e.secrets.ResolveSSHAuth(ctx, asset.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", asset.Name, err)
	}

	var methods []ssh.AuthMethod
	switch {
	case len(auth.PrivateKeyPEM) > 0:
		var signer ssh.Signer
		if auth.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(auth.PrivateKeyPEM, []byte(auth.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(auth.PrivateKeyPEM)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key for %s: %w", asset.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	case auth.Password != "":
		methods = append(methods, ssh.Password(auth.Password))
	default:
		return nil, fmt.Errorf("no usable credentials resolved for %s", asset.Name)
	}

	cfg := &ssh.ClientConfig{
		User:            asset.User,
		Auth:            methods,
		HostKeyCallback: e.hostKeys,
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(asset.Address, fmt.Sprintf("%d", asset.Port))
	return ssh.Dial("tcp", addr, cfg)
}

func (e *SSHExecutor) client(ctx context.Context, asset models.Asset) (*ssh.Client, error) {
	return e.pool.Conn(ctx, asset.User, asset.Address, asset.Port, func(dialCtx context.Context) (*ssh.Client, error) {
		return e.dial(dialCtx, asset)
	})
}

// Execute runs one command over a pooled SSH session, holding an
// exclusive per-host lease unless opts.ReadOnly marks it as safe to
// run alongside other reads.
func (e *SSHExecutor) Execute(ctx context.Context, asset models.Asset, command string, opts ExecOptions) (*CommandResult, error) {
	ctx, span := telemetry.RemoteExecSpan(ctx, e.tracer, asset.ID.String(), "ssh")
	defer span.End()

	lease, err := e.pool.Acquire(ctx, asset.User, asset.Address, asset.Port, !opts.ReadOnly)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	defer lease.Release()

	client, err := e.client(ctx, asset)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		e.pool.Invalidate(asset.User, asset.Address, asset.Port)
		span.SetError(err)
		return nil, fmt.Errorf("open ssh session on %s: %w", asset.Name, err)
	}
	defer session.Close()

	if opts.Sudo {
		command = "sudo " + command
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	// Cancelling ctx does not interrupt a command that has started: it
	// runs until it returns or its own timeout elapses.
	select {
	case <-time.After(timeout):
		_ = session.Signal(ssh.SIGKILL)
		err := fmt.Errorf("command timed out after %s on %s", timeout, asset.Name)
		span.SetError(err)
		return nil, err
	case runErr := <-done:
		result := &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			result.ExitCode = 0
			span.SetOK()
			return result, nil
		}
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			span.SetOK()
			return result, nil
		}
		span.SetError(runErr)
		return result, fmt.Errorf("ssh command failed on %s: %w", asset.Name, runErr)
	}
}

// WriteFile delivers content to remotePath atomically: it writes to a
// temp path alongside remotePath, chmods, fsyncs, then renames onto
// remotePath, so a crash mid-write never leaves a truncated script a
// concurrent or later step could execute.
func (e *SSHExecutor) WriteFile(ctx context.Context, asset models.Asset, remotePath string, content []byte, mode fs.FileMode) error {
	ctx, span := telemetry.RemoteExecSpan(ctx, e.tracer, asset.ID.String(), "ssh")
	defer span.End()

	lease, err := e.pool.Acquire(ctx, asset.User, asset.Address, asset.Port, true)
	if err != nil {
		span.SetError(err)
		return err
	}
	defer lease.Release()

	client, err := e.client(ctx, asset)
	if err != nil {
		span.SetError(err)
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		e.pool.Invalidate(asset.User, asset.Address, asset.Port)
		span.SetError(err)
		return fmt.Errorf("open sftp session on %s: %w", asset.Name, err)
	}
	defer sftpClient.Close()

	if dir := parentDir(remotePath); dir != "" && dir != "." {
		_ = sftpClient.MkdirAll(dir)
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d", remotePath, time.Now().UnixNano())

	f, err := sftpClient.Create(tmpPath)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("create remote temp file %s on %s: %w", tmpPath, asset.Name, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		_ = sftpClient.Remove(tmpPath)
		span.SetError(err)
		return fmt.Errorf("write remote temp file %s on %s: %w", tmpPath, asset.Name, err)
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		_ = sftpClient.Remove(tmpPath)
		span.SetError(err)
		return fmt.Errorf("chmod remote temp file %s on %s: %w", tmpPath, asset.Name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = sftpClient.Remove(tmpPath)
		span.SetError(err)
		return fmt.Errorf("fsync remote temp file %s on %s: %w", tmpPath, asset.Name, err)
	}
	if err := f.Close(); err != nil {
		_ = sftpClient.Remove(tmpPath)
		span.SetError(err)
		return fmt.Errorf("close remote temp file %s on %s: %w", tmpPath, asset.Name, err)
	}

	// PosixRename (posix-rename@openssh.com) overwrites remotePath
	// atomically if it already exists, unlike plain SFTP RENAME which
	// errors on an existing destination — the common case on a retried
	// deployment step writing to the same scratch path.
	if err := sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		_ = sftpClient.Remove(tmpPath)
		span.SetError(err)
		return fmt.Errorf("rename remote file %s on %s: %w", remotePath, asset.Name, err)
	}

	span.SetOK()
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// TestConnection mirrors the original's test_connection: run "echo test"
// and check it succeeded.
func (e *SSHExecutor) TestConnection(ctx context.Context, asset models.Asset) error {
	result, err := e.Execute(ctx, asset, "echo test", ExecOptions{Timeout: 10 * time.Second, ReadOnly: true})
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("connection test failed on %s: exit code %d: %s", asset.Name, result.ExitCode, result.Stderr)
	}
	return nil
}

// Close invalidates the pooled connection for this asset.
func (e *SSHExecutor) Close(asset models.Asset) error {
	e.pool.Invalidate(asset.User, asset.Address, asset.Port)
	return nil
}
