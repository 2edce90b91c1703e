package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const (
	defaultSSHPort = 22
	sshTimeout     = 10 * time.Second
)

func init() { Register(domain.TypeSCP, buildSCP) }

// scpUploader copies every file of localDir to remoteDir each interval using
// the scp sink protocol ("scp -t") over an SSH session.
type scpUploader struct {
	svc    *Service
	opts   *domain.SCPOptions
	config *ssh.ClientConfig
}

func buildSCP(s *Service) (supervisor.Runner, error) {
	opts := s.Def.Options.(*domain.SCPOptions)
	cfg, err := sshConfig(opts, s.Log())
	if err != nil {
		return nil, err
	}
	return &scpUploader{svc: s, opts: opts, config: cfg}, nil
}

func sshConfig(opts *domain.SCPOptions, log logger.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if opts.KeyFile != "" {
		pem, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read key file: %v", domain.ErrInvalidConfig, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("%w: parse key file: %v", domain.ErrInvalidConfig, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		auth = append(auth, ssh.Password(opts.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // only without a known_hosts file
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: known hosts: %v", domain.ErrInvalidConfig, err)
		}
		hostKey = cb
	} else {
		log.Warn("no knownHostsFile configured, host key is not verified")
	}

	return &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         sshTimeout,
	}, nil
}

func (u *scpUploader) Run(ctx context.Context) error {
	return Every(ctx, u.opts.Interval.Std(), u.uploadOnce)
}

func (u *scpUploader) uploadOnce(ctx context.Context) {
	files, err := pendingFiles(u.opts.LocalDir)
	if err != nil {
		u.svc.IOError("list", err)
		return
	}
	if len(files) == 0 {
		return
	}

	port := u.opts.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(u.opts.Host, strconv.Itoa(port))

	d := net.Dialer{Timeout: sshTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		u.svc.IOError("dial", err)
		return
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, u.config)
	if err != nil {
		_ = conn.Close()
		u.svc.IOError("handshake", err)
		return
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	uploaded := 0
	for _, file := range files {
		if ctx.Err() != nil {
			return
		}
		if err := u.copyFile(client, file); err != nil {
			u.svc.IOError("scp", err)
			continue
		}
		uploaded++
	}
	if uploaded > 0 {
		u.svc.Publish(fmt.Sprintf("uploaded %d file(s) to %s:%s", uploaded, u.opts.Host, u.opts.RemoteDir))
	}
}

func (u *scpUploader) copyFile(client *ssh.Client, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	if err := session.Start("scp -t " + shellQuote(u.opts.RemoteDir)); err != nil {
		return fmt.Errorf("start scp: %w", err)
	}

	sendErr := scpSend(stdin, bufio.NewReader(stdout), filepath.Base(file), info.Mode().Perm(), info.Size(), f)
	_ = stdin.Close()
	waitErr := session.Wait()
	if sendErr != nil {
		return sendErr
	}
	if waitErr != nil {
		return fmt.Errorf("scp %s: %w", path.Join(u.opts.RemoteDir, filepath.Base(file)), waitErr)
	}
	return nil
}

// scpSend speaks the sink side of the scp protocol for one file: wait for the
// ready byte, send the "C" header, the content and a zero byte, checking the
// acknowledgement after each step.
func scpSend(w io.Writer, r *bufio.Reader, name string, mode os.FileMode, size int64, content io.Reader) error {
	if err := scpAck(r); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "C%04o %d %s\n", mode, size, name); err != nil {
		return err
	}
	if err := scpAck(r); err != nil {
		return err
	}
	if n, err := io.CopyN(w, content, size); err != nil {
		return fmt.Errorf("copied %d of %d bytes: %w", n, size, err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return scpAck(r)
}

func scpAck(r *bufio.Reader) error {
	code, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("scp ack: %w", err)
	}
	switch code {
	case 0:
		return nil
	case 1, 2:
		line, _ := r.ReadString('\n')
		return errors.New("scp remote: " + line)
	default:
		return fmt.Errorf("scp: unexpected ack byte %d", code)
	}
}

func shellQuote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, []byte(`'\''`)...)
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
