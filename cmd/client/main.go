package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/NicolasHaas/gorelay/pkg/client"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

const requestTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := client.Config{Addr: "localhost:1234"}
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:     "gorelay-client",
		Short:   "Terminal chat client for a gorelay server",
		Version: version.Full(),
		Long: `gorelay-client connects to a gorelay server over TLS, logs in or registers,
then sends every line typed on stdin to the other connected users.

Type /quit to leave.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Logs go to stderr so they never interleave with the transcript.
			logger, err := logging.New(logging.Options{Level: logLevel, Format: logFormat, Output: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			c, err := client.Dial(ctx, cfg, logger)
			cancel()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			s := &session{c: c, in: bufio.NewReader(os.Stdin), out: cmd.OutOrStdout()}
			return s.run(cmd.Context())
		},
	}

	fl := rootCmd.Flags()
	fl.StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, "Server address host:port")
	fl.StringVar(&cfg.CAFile, "ca", "", "PEM file to verify the server certificate (e.g. the server's cert.pem)")
	fl.StringVar(&cfg.ServerName, "server-name", "", "Expected certificate name (defaults to the host in --addr)")
	fl.BoolVar(&cfg.InsecureSkipVerify, "insecure", false, "Skip server certificate verification")
	fl.StringVar(&logLevel, "log-level", "warn", "Log level: "+logging.LevelNames())
	fl.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	return rootCmd
}

type session struct {
	c        *client.Client
	in       *bufio.Reader
	out      io.Writer
	username string
	rendered int
}

func (s *session) run(ctx context.Context) error {
	if err := s.authenticate(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "logged in as %s, type /quit to leave\n", s.username)

	lines := make(chan string)
	go s.readLines(lines)

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if line == "" {
				continue
			}
			if err := s.c.Send(s.username, line); err != nil {
				if errors.Is(err, client.ErrMessageTooLarge) {
					fmt.Fprintln(s.out, "message too long, not sent")
					continue
				}
				return err
			}
		case <-s.c.Transcript().Updated():
			s.render()
		case <-s.c.Done():
			s.render()
			if err := s.c.Err(); err != nil && !errors.Is(err, client.ErrClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// render prints transcript entries not shown yet.
func (s *session) render() {
	entries := s.c.Transcript().Since(s.rendered)
	s.rendered += len(entries)
	for _, e := range entries {
		switch e.Kind {
		case client.EntryChat:
			fmt.Fprintf(s.out, "%s [%s] %s\n", e.At.Format("15:04:05"), e.Username, e.Text)
		default:
			fmt.Fprintf(s.out, "*** %s\n", e.Text)
		}
	}
}

func (s *session) readLines(lines chan<- string) {
	defer close(lines)
	for {
		line, err := s.in.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" || err == nil {
			lines <- line
		}
		if err != nil {
			return
		}
	}
}

// authenticate loops until a login succeeds. A successful registration is
// followed by a login with the same credentials.
func (s *session) authenticate(ctx context.Context) error {
	for {
		choice, err := s.prompt("(l)ogin or (r)egister? ")
		if err != nil {
			return err
		}
		username, err := s.prompt("username: ")
		if err != nil {
			return err
		}
		password, err := s.promptPassword("password: ")
		if err != nil {
			return err
		}

		if strings.HasPrefix(strings.ToLower(choice), "r") {
			err := s.request(ctx, func(ctx context.Context) error { return s.c.Register(ctx, username, password) })
			if err != nil {
				if !isRefusal(err) {
					return err
				}
				fmt.Fprintf(s.out, "registration failed: %v\n", err)
				continue
			}
			fmt.Fprintln(s.out, "registered")
		}

		err = s.request(ctx, func(ctx context.Context) error { return s.c.Login(ctx, username, password) })
		if err == nil {
			s.username = username
			return nil
		}
		if !isRefusal(err) {
			return err
		}
		fmt.Fprintf(s.out, "login failed: %v\n", err)
	}
}

func (s *session) request(ctx context.Context, do func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return do(ctx)
}

func isRefusal(err error) bool {
	var res *client.ResultError
	return errors.As(err, &res) && res.Type != protocol.TypeConnectionFailed
}

func (s *session) prompt(label string) (string, error) {
	fmt.Fprint(s.out, label)
	line, err := s.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *session) promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin descriptor fits in int
	if !term.IsTerminal(fd) {
		return s.prompt(label)
	}
	fmt.Fprint(s.out, label)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(pw)), nil
}
