package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joshsymonds/chronoreply/internal/config"
	"github.com/joshsymonds/chronoreply/internal/credential"
	"github.com/joshsymonds/chronoreply/internal/gmail"
	"github.com/joshsymonds/chronoreply/internal/imapgw"
	"github.com/joshsymonds/chronoreply/internal/ledger"
	"github.com/joshsymonds/chronoreply/internal/rate"
	"github.com/joshsymonds/chronoreply/internal/reply"
	"github.com/joshsymonds/chronoreply/internal/runtime"
	"github.com/joshsymonds/chronoreply/internal/schedule"
)

const imapPasswordKey = "imap-password"

func main() {
	cfgPath := flag.String("config", config.DefaultPath(), "path to config file (optional)")
	login := flag.Bool("login", false, "store mailbox credentials and exit")
	flag.Parse()

	runFn := run
	if *login {
		runFn = runLogin
	}
	if err := runFn(*cfgPath); err != nil && !errors.Is(err, context.Canceled) {
		runtime.DefaultLogger().Error("chronoreply failed", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, _ := cfg.LogLevel()
	logger := runtime.NewLogger(level)

	client, closeClient, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	var (
		limiter rate.Limiter
		bucket  *rate.TokenBucket
	)
	if cfg.Rate.RPS > 0 {
		bucket = rate.NewTokenBucket(cfg.Rate.RPS)
		limiter = bucket
		defer bucket.Stop()
	}

	svc := reply.NewService(client, limiter, logger, ledger.New(cfg.Ledger.Path), reply.Options{
		Self:  cfg.Mailbox.Address,
		Label: cfg.Reply.Label,
		Template: reply.Template{
			Subject: cfg.Reply.Subject,
			Body:    cfg.Reply.Body,
		},
		KeyMode:  reply.KeyMode(cfg.Reply.DedupKey),
		PageSize: cfg.Gmail.PageSize,
	})
	if err := svc.ResolveSelf(ctx); err != nil {
		return fmt.Errorf("resolve own address: %w", err)
	}
	logger.Info("chronoreply started",
		slog.String("mailbox", svc.Options.Self),
		slog.String("backend", cfg.Mailbox.Backend),
		slog.String("ledger", cfg.Ledger.Path),
		slog.String("dedup_key", cfg.Reply.DedupKey),
	)

	sched := schedule.New(func(ctx context.Context) error {
		_, err := svc.RunCycle(ctx)
		return err
	}, logger)
	sched.MinDelay = cfg.Schedule.MinDelay
	sched.MaxDelay = cfg.Schedule.MaxDelay
	return sched.Run(ctx)
}

// runLogin authorizes Gmail or stores the IMAP password in the keyring.
func runLogin(cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := runtime.DefaultLogger()

	if cfg.Mailbox.Backend == config.BackendIMAP {
		ring, err := credential.OpenKeyring()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "IMAP password for %s: ", cfg.IMAP.Username)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return errors.New("empty password")
		}
		if err := credential.SetSecret(ring, imapPasswordKey, password); err != nil {
			return err
		}
		logger.Info("imap password stored", "username", cfg.IMAP.Username)
		return nil
	}

	client, closeClient, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()
	addr, err := client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("verify authorization: %w", err)
	}
	logger.Info("gmail authorized", "mailbox", addr)
	return nil
}

func newClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (gmail.Client, func(), error) {
	switch cfg.Mailbox.Backend {
	case config.BackendIMAP:
		password := cfg.IMAP.Password
		if password == "" {
			ring, err := credential.OpenKeyring()
			if err != nil {
				return nil, nil, err
			}
			if password, err = credential.Secret(ring, imapPasswordKey); err != nil {
				return nil, nil, fmt.Errorf("imap password: %w", err)
			}
		}
		gw := imapgw.New(imapgw.Config{
			IMAPAddr: cfg.IMAP.Addr,
			SMTPAddr: cfg.SMTP.Addr,
			Username: cfg.IMAP.Username,
			Password: password,
			Mailbox:  cfg.IMAP.Mailbox,
		})
		return gw, func() { _ = gw.Close() }, nil
	default:
		var tokens credential.TokenStore = credential.FileTokenStore{Path: cfg.Gmail.TokenPath}
		if cfg.Gmail.TokenStore == config.TokenStoreKeyring {
			ring, err := credential.OpenKeyring()
			if err != nil {
				return nil, nil, err
			}
			tokens = credential.KeyringTokenStore{Ring: ring}
		}
		client, err := runtime.NewGmailClient(ctx, runtime.GmailAuth{
			CredentialsPath: cfg.Gmail.CredentialsPath,
			Tokens:          tokens,
		}, cfg.Gmail.Query, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create gmail client: %w", err)
		}
		return client, func() {}, nil
	}
}
