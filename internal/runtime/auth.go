// internal/runtime/auth.go
package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/chronoreply/internal/credential"
	gc "github.com/joshsymonds/chronoreply/internal/gmail"
)

// GmailAuth describes where the OAuth client secret and token live.
type GmailAuth struct {
	CredentialsPath string
	Tokens          credential.TokenStore
	// Prompt is used only when no token is stored yet.
	In  io.Reader
	Out io.Writer
}

// NewGmailClient authorizes with the gmail.modify scope and returns the adapter.
func NewGmailClient(ctx context.Context, auth GmailAuth, query string, logger *slog.Logger) (gc.Client, error) {
	svc, err := newGmailService(ctx, auth, logger)
	if err != nil {
		return nil, err
	}
	return NewGoogleAPIClient(svc, query), nil
}

func newGmailService(ctx context.Context, auth GmailAuth, logger *slog.Logger) (*gmail.Service, error) {
	secret, err := os.ReadFile(auth.CredentialsPath) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read client credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secret, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client credentials: %w", err)
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost"
	}

	tok, err := auth.Tokens.Load()
	if errors.Is(err, credential.ErrNotFound) {
		tok, err = authorizeInteractive(ctx, cfg, auth.In, auth.Out)
		if err != nil {
			return nil, err
		}
		if saveErr := auth.Tokens.Save(tok); saveErr != nil {
			return nil, fmt.Errorf("save token: %w", saveErr)
		}
		logger.Info("authorization stored")
	} else if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	ts := &persistingTokenSource{
		base:   cfg.TokenSource(ctx, tok),
		store:  auth.Tokens,
		last:   tok.AccessToken,
		logger: logger,
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// authorizeInteractive runs the installed-app consent flow on the console.
func authorizeInteractive(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	url := cfg.AuthCodeURL("chronoreply", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if _, err := fmt.Fprintf(out, "Open this URL, approve access, then paste the code parameter of the redirect:\n\n%s\n\ncode: ", url); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// persistingTokenSource writes refreshed tokens back to the store.
type persistingTokenSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	store  credential.TokenStore
	last   string
	logger *slog.Logger
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if saveErr := p.store.Save(tok); saveErr != nil {
			p.logger.Warn("persist refreshed token", "error", saveErr)
		}
	}
	return tok, nil
}

// NewLogger returns a text logger on stderr at level.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func DefaultLogger() *slog.Logger {
	return NewLogger(slog.LevelInfo)
}
