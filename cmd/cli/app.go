package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/shopease/sessionkeeper/internal/biometric"
	"github.com/shopease/sessionkeeper/internal/config"
	"github.com/shopease/sessionkeeper/internal/issuer"
	"github.com/shopease/sessionkeeper/internal/issuer/grpcissuer"
	"github.com/shopease/sessionkeeper/internal/issuer/mock"
	"github.com/shopease/sessionkeeper/internal/logging"
	"github.com/shopease/sessionkeeper/internal/securestore/sqlite"
	"github.com/shopease/sessionkeeper/internal/session"
	"github.com/shopease/sessionkeeper/internal/sessionstore"
)

// globalOpts are the persistent root flags.
type globalOpts struct {
	configPath string
	storePath  string
	logLevel   string
}

// app is everything one command invocation needs.
type app struct {
	cfg      *config.Client
	log      *zap.Logger
	kv       *sqlite.Store
	store    *sessionstore.Store
	passcode *biometric.PasscodeAuthenticator
	gate     *biometric.Gate
	issuer   issuer.Issuer
	remote   *grpcissuer.Client // nil in mock mode
	mgr      *session.Manager
}

func loadClientConfig(g *globalOpts) (*config.Client, error) {
	cfg, err := config.LoadClient(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.storePath != "" {
		cfg.Store.Path = g.storePath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, g *globalOpts, prompts io.Writer) (*app, error) {
	cfg, err := loadClientConfig(g)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	kv, err := sqlite.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open secure store: %w", err)
	}

	a := &app{cfg: cfg, log: log, kv: kv}
	a.passcode = biometric.NewPasscode(kv, prompts)
	a.gate = biometric.NewGate(a.passcode, log.Named("biometric"))
	a.store = sessionstore.New(kv, a.gate, log.Named("store"))

	switch cfg.Issuer.Mode {
	case config.IssuerGRPC:
		cl, err := grpcissuer.Dial(cfg.Issuer.Addr, cfg.Issuer.CACert, cfg.Issuer.Insecure)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("dial issuer: %w", err)
		}
		a.remote, a.issuer = cl, cl
	default:
		m, err := mock.New(mock.WithDelay(cfg.Issuer.MockDelay))
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		a.issuer = m
	}

	a.mgr = session.New(a.store, a.gate, a.issuer, log.Named("session"),
		session.WithIssuerTimeout(cfg.Issuer.Timeout))
	return a, nil
}

func (a *app) Close() error {
	var err error
	if a.remote != nil {
		err = multierr.Append(err, a.remote.Close())
	}
	err = multierr.Append(err, a.kv.Close())
	_ = a.log.Sync()
	return err
}

// secretReader reads lines without echo on a terminal, or plain lines from in otherwise.
type secretReader struct {
	in  io.Reader
	out io.Writer
	buf *bufio.Reader
}

func newSecretReader(in io.Reader, out io.Writer) *secretReader {
	return &secretReader{in: in, out: out, buf: bufio.NewReader(in)}
}

func (s *secretReader) Read(prompt string) ([]byte, error) {
	fmt.Fprint(s.out, prompt)
	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(s.out)
		return b, err
	}
	line, err := s.buf.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
