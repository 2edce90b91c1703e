package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const (
	maxDatagram = 64 * 1024
	dialTimeout = 5 * time.Second
)

func init() { Register(domain.TypeTCP, buildTCP) }

func buildTCP(s *Service) (supervisor.Runner, error) {
	opts := s.Def.Options.(*domain.TCPOptions)
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	switch {
	case opts.Role == domain.RoleListener && opts.Network() == domain.ProtocolTCP:
		return &tcpListener{svc: s, addr: addr}, nil
	case opts.Role == domain.RoleListener:
		return &udpListener{svc: s, addr: addr}, nil
	default:
		return &sender{svc: s, network: opts.Network(), addr: addr, template: opts.Template, interval: opts.Interval.Std()}, nil
	}
}

// tcpListener publishes every line received on any accepted connection.
type tcpListener struct {
	svc  *Service
	addr string
}

func (l *tcpListener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	l.svc.Log().Info("tcp listener started", logger.String("addr", ln.Addr().String()))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				wg.Wait()
				return err
			}
			l.svc.IOError("accept", err)
			continue
		}

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			_ = conn.Close()
			continue
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
				_ = conn.Close()
			}()

			sc := bufio.NewScanner(conn)
			for sc.Scan() {
				l.svc.Publish(strings.TrimRight(sc.Text(), "\r"))
			}
			if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				l.svc.IOError("read", err)
			}
		}()
	}
}

// udpListener publishes every datagram.
type udpListener struct {
	svc  *Service
	addr string
}

func (l *udpListener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	l.svc.Log().Info("udp listener started", logger.String("addr", pc.LocalAddr().String()))

	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.svc.IOError("read", err)
			continue
		}
		l.svc.Publish(strings.TrimRight(string(buf[:n]), "\r\n"))
	}
}

// sender writes the resolved template every interval and every forwarded
// message as soon as it arrives. Only template sends are published. A failed
// write drops the connection; the next send redials.
type sender struct {
	svc      *Service
	network  string
	addr     string
	template string
	interval time.Duration

	conn net.Conn
}

func (s *sender) Run(ctx context.Context) error {
	inbox := s.svc.OpenInbox()
	defer inbox.Close()
	defer s.close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.template != "" {
		s.send(ctx, s.svc.Resolve(s.template), true)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.template != "" {
				s.send(ctx, s.svc.Resolve(s.template), true)
			}
		case d := <-inbox.C():
			// forwarded messages are not forwarded again
			s.send(ctx, d.Message, false)
		}
	}
}

func (s *sender) send(ctx context.Context, payload string, publish bool) {
	if s.conn == nil {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, s.network, s.addr)
		if err != nil {
			if ctx.Err() == nil {
				s.svc.IOError("dial", err)
			}
			return
		}
		s.conn = conn
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := s.conn.Write([]byte(payload + "\n")); err != nil {
		s.svc.IOError("write", err)
		s.close()
		return
	}
	if publish {
		s.svc.Publish(payload)
	}
}

func (s *sender) close() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
