package runner

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const (
	defaultFTPPort    = 21
	defaultFTPTimeout = 10 * time.Second
)

func init() { Register(domain.TypeFTPClient, buildFTPClient) }

// ftpConn is the part of *ftp.ServerConn the uploader uses.
type ftpConn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

type ftpDialFunc func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ftpUploader pushes every file of localDir to the server each interval.
type ftpUploader struct {
	svc  *Service
	opts *domain.FTPClientOptions
	dial ftpDialFunc
}

func buildFTPClient(s *Service) (supervisor.Runner, error) {
	return &ftpUploader{svc: s, opts: s.Def.Options.(*domain.FTPClientOptions), dial: dialFTP}, nil
}

func (u *ftpUploader) Run(ctx context.Context) error {
	return Every(ctx, u.opts.Interval.Std(), u.uploadOnce)
}

func (u *ftpUploader) uploadOnce(ctx context.Context) {
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
		port = defaultFTPPort
	}
	timeout := u.opts.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultFTPTimeout
	}

	conn, err := u.dial(ctx, net.JoinHostPort(u.opts.Host, strconv.Itoa(port)), timeout)
	if err != nil {
		u.svc.IOError("dial", err)
		return
	}
	defer func() { _ = conn.Quit() }()

	user, pass := u.opts.Username, u.opts.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		u.svc.IOError("login", err)
		return
	}
	if u.opts.RemoteDir != "" {
		if err := conn.ChangeDir(u.opts.RemoteDir); err != nil {
			u.svc.IOError("cwd", err)
			return
		}
	}

	uploaded := 0
	for _, path := range files {
		if ctx.Err() != nil {
			return
		}
		if err := u.store(conn, path); err != nil {
			u.svc.IOError("stor", err)
			continue
		}
		uploaded++
		u.svc.Log().Debug("uploaded file", logger.String("file", path))
		if u.opts.DeleteAfterUpload {
			if err := os.Remove(path); err != nil {
				u.svc.IOError("delete", err)
			}
		}
	}
	if uploaded > 0 {
		u.svc.Publish(fmt.Sprintf("uploaded %d file(s) to %s", uploaded, u.opts.Host))
	}
}

func (u *ftpUploader) store(conn ftpConn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return conn.Stor(filepath.Base(path), f)
}
