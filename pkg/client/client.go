// Package client implements the GoRelay client networking.
//
// A Client runs two roles: a receive goroutine that blocks on transport reads
// and appends broadcasts to the Transcript, and the caller's goroutine that
// blocks on user input and performs writes.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

var (
	ErrMessageTooLarge = errors.New("client: message exceeds the payload limit")
	ErrClosed          = errors.New("client: connection closed")
)

// ResultError is a negative login or registration result from the server.
type ResultError struct {
	Type   protocol.Type
	Reason string
}

func (e *ResultError) Error() string {
	if e.Reason == "" {
		return string(e.Type)
	}
	return string(e.Type) + ": " + e.Reason
}

// Config holds connection settings.
type Config struct {
	Addr               string        // host:port
	CAFile             string        // PEM bundle to verify the server with; system roots if empty
	ServerName         string        // defaults to the host part of Addr
	InsecureSkipVerify bool          // accept any certificate
	DialTimeout        time.Duration // 0 = 10s
}

// TLSConfig builds the client TLS configuration from cfg.
func (cfg Config) TLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicit user opt-in
	}
	if tlsCfg.ServerName == "" {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("client: bad address %q: %w", cfg.Addr, err)
		}
		tlsCfg.ServerName = host
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile) //nolint:gosec // path from CLI flag
		if err != nil {
			return nil, fmt.Errorf("client: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client: no certificates in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// Client is a connection to a relay server.
type Client struct {
	conn       net.Conn
	log        *slog.Logger
	writeMu    sync.Mutex
	transcript *Transcript
	results    chan *protocol.Message // login/register results, in arrival order
	done       chan struct{}
	startOnce  sync.Once

	errMu sync.Mutex
	err   error // why the receive goroutine stopped
}

// Dial connects to the server over TLS and starts receiving.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: tlsCfg}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	c := New(conn, logger)
	c.Start()
	return c, nil
}

// New wraps an established connection. Call Start before Login or Register.
func New(conn net.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:       conn,
		log:        logger,
		transcript: newTranscript(),
		results:    make(chan *protocol.Message, 8),
		done:       make(chan struct{}),
	}
}

// Start launches the receive goroutine. Further calls do nothing.
func (c *Client) Start() {
	c.startOnce.Do(func() { go c.receive() })
}

func (c *Client) receive() {
	defer close(c.done)
	for {
		msg, err := protocol.ReadMessage(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.stop(ErrClosed)
			} else {
				c.stop(fmt.Errorf("client: receive: %w", err))
			}
			c.transcript.append(Entry{Kind: EntryNotice, Text: "server disconnected", At: time.Now()})
			return
		}

		switch msg.Type {
		case protocol.TypeMessage:
			c.transcript.append(Entry{Kind: EntryChat, Username: msg.Username, Text: msg.Message, At: time.Now()})
		case protocol.TypeConnectionFailed:
			c.stop(&ResultError{Type: msg.Type, Reason: msg.Message})
			c.transcript.append(Entry{Kind: EntryNotice, Text: "connection refused: " + msg.Message, At: time.Now()})
			_ = c.conn.Close()
			return
		case protocol.TypeLoginSuccess, protocol.TypeLoginFailed,
			protocol.TypeRegisterSuccess, protocol.TypeRegisterFailed:
			select {
			case c.results <- msg:
			default:
				c.log.Warn("dropping unsolicited result", "type", msg.Type)
			}
		default:
			c.log.Debug("ignoring unknown message", "type", msg.Type)
		}
	}
}

func (c *Client) stop(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// Err returns why the connection ended, or nil while it is up.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) write(msg *protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		return ErrMessageTooLarge
	}
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// request sends msg and waits for the matching result.
func (c *Client) request(ctx context.Context, msg *protocol.Message, ok, failed protocol.Type) error {
	// Results of earlier requests that gave up waiting must not answer this one.
	for drained := false; !drained; {
		select {
		case stale := <-c.results:
			c.log.Debug("discarding late result", "type", stale.Type)
		default:
			drained = true
		}
	}
	if err := c.write(msg); err != nil {
		return err
	}
	for {
		select {
		case res := <-c.results:
			switch res.Type {
			case ok:
				return nil
			case failed:
				return &ResultError{Type: res.Type, Reason: res.Message}
			default:
				c.log.Warn("unexpected result", "want", ok, "got", res.Type)
			}
		case <-c.done:
			if err := c.Err(); err != nil {
				return err
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Login authenticates the connection. A refusal is returned as *ResultError.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.request(ctx, protocol.Login(username, password), protocol.TypeLoginSuccess, protocol.TypeLoginFailed)
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.request(ctx, protocol.Register(username, password), protocol.TypeRegisterSuccess, protocol.TypeRegisterFailed)
}

// Send broadcasts text to the other peers. Text that would not fit in one
// frame is rejected with ErrMessageTooLarge before anything is written.
func (c *Client) Send(username, text string) error {
	return c.write(protocol.Chat(username, text))
}

// Transcript returns the display buffer filled by the receive goroutine.
func (c *Client) Transcript() *Transcript {
	return c.transcript
}

// Done is closed when the receive goroutine stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
