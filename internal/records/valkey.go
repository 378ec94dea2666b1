package records

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/hostwatch/internal/models"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyStore keeps failure records as plain string keys on a Valkey server. It speaks
// just enough RESP2 for GET, SET, DEL and the connection handshake, opening one
// short-lived connection per operation.
type ValkeyStore struct {
	cfg ValkeyConfig
	now Clock
}

// NewValkeyStore pings the server so a misconfigured backend fails at start-up
// instead of on the first restart attempt.
func NewValkeyStore(cfg ValkeyConfig, now Clock) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if now == nil {
		now = time.Now
	}
	applyValkeyDefaults(&cfg)
	store := &ValkeyStore{cfg: cfg, now: now}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := store.ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return store, nil
}

func (s *ValkeyStore) key(service string) []byte {
	return []byte(s.cfg.KeyPrefix + service)
}

// Get implements Store.
func (s *ValkeyStore) Get(ctx context.Context, service string) (models.FailureRecord, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := s.do(ctx, func(c *respConn) error {
		reply, err := c.call("GET", s.key(service))
		if err != nil {
			return err
		}
		switch reply.kind {
		case respNil:
			return nil
		case respBulk:
			data, found = reply.data, true
			return nil
		default:
			return fmt.Errorf("unexpected reply %q to GET", reply.kind)
		}
	})
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	if !found {
		return models.FailureRecord{}, false, nil
	}
	rec, err := decodeRecord(service, data)
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	return rec, true, nil
}

// Put implements Store.
func (s *ValkeyStore) Put(ctx context.Context, service string, attemptCount int) error {
	value := encodeRecord(attemptCount, s.now())
	err := s.do(ctx, func(c *respConn) error {
		reply, err := c.call("SET", s.key(service), value)
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET reply: %s", reply.data)
		}
		return nil
	})
	if err != nil {
		return writeErr(service, err)
	}
	return nil
}

// Delete implements Store.
func (s *ValkeyStore) Delete(ctx context.Context, service string) error {
	err := s.do(ctx, func(c *respConn) error {
		_, err := c.call("DEL", s.key(service))
		return err
	})
	if err != nil {
		return writeErr(service, err)
	}
	return nil
}

// Close is a no-op; connections are not pooled.
func (s *ValkeyStore) Close() error { return nil }

func (s *ValkeyStore) ping(ctx context.Context) error {
	return s.do(ctx, func(c *respConn) error {
		reply, err := c.call("PING")
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING reply: %s", reply.data)
		}
		return nil
	})
}

func (s *ValkeyStore) do(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.once(ctx, fn)
		if lastErr == nil || !isTimeout(lastErr) {
			return lastErr
		}
		if attempt < s.cfg.MaxRetries-1 {
			time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
		}
	}
	return lastErr
}

func (s *ValkeyStore) once(ctx context.Context, fn func(*respConn) error) error {
	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer c.conn.Close()

	if err := s.handshake(c); err != nil {
		return err
	}
	return fn(c)
}

func (s *ValkeyStore) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if s.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(s.cfg.Addr)
		if splitErr != nil {
			host = s.cfg.Addr
		}
		tlsDialer := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", s.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  s.cfg.ReadTimeout,
		writeTimeout: s.cfg.WriteTimeout,
	}, nil
}

func (s *ValkeyStore) handshake(c *respConn) error {
	if s.cfg.Password != "" {
		args := [][]byte{[]byte(s.cfg.Password)}
		if s.cfg.Username != "" {
			args = [][]byte{[]byte(s.cfg.Username), []byte(s.cfg.Password)}
		}
		reply, err := c.call("AUTH", args...)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if s.cfg.DB > 0 {
		reply, err := c.call("SELECT", []byte(strconv.Itoa(s.cfg.DB)))
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		if !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type respKind string

const (
	respSimple  respKind = "+"
	respBulk    respKind = "$"
	respInteger respKind = ":"
	respNil     respKind = "_"
)

type respReply struct {
	kind respKind
	data []byte
}

// respConn wraps one connection with RESP2 framing.
type respConn struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) call(command string, args ...[]byte) (respReply, error) {
	if err := c.write(command, args...); err != nil {
		return respReply{}, err
	}
	return c.read()
}

func (c *respConn) write(command string, args ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.w, "*%d\r\n$%d\r\n%s\r\n", len(args)+1, len(command), command)
	for _, arg := range args {
		fmt.Fprintf(c.w, "$%d\r\n", len(arg))
		c.w.Write(arg)
		c.w.WriteString("\r\n")
	}
	return c.w.Flush()
}

func (c *respConn) read() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.r.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := c.line()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		return respReply{kind: respSimple, data: line}, nil
	case '-':
		return respReply{}, errors.New(string(line))
	case ':':
		return respReply{kind: respInteger, data: line}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length %q: %w", line, err)
		}
		if size < 0 {
			return respReply{kind: respNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string termination")
		}
		return respReply{kind: respBulk, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) line() ([]byte, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
