// Package reply answers unread conversations once with a fixed acknowledgement.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/chronoreply/internal/gmail"
	"github.com/joshsymonds/chronoreply/internal/ledger"
	"github.com/joshsymonds/chronoreply/internal/rate"
)

const defaultPageSize = 100

// State is the position of a thread in one cycle.
type State string

const (
	StateFetched  State = "fetched"
	StateFiltered State = "filtered"
	StateReplied  State = "replied"
	StateTagged   State = "tagged"
	StateSkipped  State = "skipped"
)

// Reasons a thread is skipped.
const (
	ReasonLedger     = "ledger"
	ReasonLabel      = "label"
	ReasonSelf       = "self"
	ReasonNoMessages = "no-messages"
	ReasonNoSender   = "no-sender"
)

// KeyMode selects the identifier the ledger is keyed by.
type KeyMode string

const (
	// KeyThread records the conversation id: one reply per thread.
	KeyThread KeyMode = "thread"
	// KeySender records the sender address: one reply per sender, ever.
	KeySender KeyMode = "sender"
)

// Options configure the reply loop.
type Options struct {
	// Self is the mailbox owner's address; mail from it is never answered.
	Self     string
	Label    string
	Template Template
	KeyMode  KeyMode
	PageSize int
}

// Outcome records where one thread ended up.
type Outcome struct {
	Thread gmail.ThreadID
	State  State
	Reason string
	Sender string
}

// Report summarizes one cycle.
type Report struct {
	CycleID  string
	Outcomes []Outcome
	Sent     int
}

// Skipped counts outcomes that ended in StateSkipped.
func (r Report) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == StateSkipped {
			n++
		}
	}
	return n
}

// Service runs reply cycles. It owns the ledger for the process lifetime.
type Service struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Ledger  *ledger.Ledger
	Clock   func() time.Time
	NewID   func() string
	Options Options
}

// NewService constructs a Service with sane defaults.
func NewService(
	client gmail.Client,
	limiter rate.Limiter,
	logger *slog.Logger,
	led *ledger.Ledger,
	opts Options,
) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.Template.Subject == "" {
		opts.Template.Subject = DefaultTemplate.Subject
	}
	if opts.Template.Body == "" {
		opts.Template.Body = DefaultTemplate.Body
	}
	if opts.KeyMode == "" {
		opts.KeyMode = KeyThread
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Service{
		Client:  client,
		Limiter: limiter,
		Logger:  logger,
		Ledger:  led,
		Clock:   time.Now,
		NewID:   uuid.NewString,
		Options: opts,
	}
}

// cycle holds the per-cycle label state.
type cycle struct {
	log     *slog.Logger
	labelID gmail.LabelID // empty until the label is known to exist
	ensured bool
}

// RunCycle processes every currently unread thread once, in listing order.
// A remote failure ends the cycle early; the partial report is returned with the error.
func (s *Service) RunCycle(ctx context.Context) (Report, error) {
	rep := Report{CycleID: s.NewID()}
	c := &cycle{log: s.Logger.With("cycle", rep.CycleID)}
	c.log.InfoContext(ctx, "starting message processing")

	if err := s.Ledger.Load(); err != nil {
		c.log.WarnContext(ctx, "ledger unreadable, starting empty", "path", s.Ledger.Path(), "error", err)
	}

	ids, err := s.listUnread(ctx)
	if err != nil {
		return rep, err
	}
	if len(ids) == 0 {
		c.log.InfoContext(ctx, "nothing in the inbox")
		return rep, nil
	}

	if err := s.wait(ctx, "rate limit labels"); err != nil {
		return rep, err
	}
	id, ok, err := s.Client.LookupLabel(ctx, s.Options.Label)
	if err != nil {
		return rep, fmt.Errorf("lookup label %q: %w", s.Options.Label, err)
	}
	if ok {
		c.labelID = id
		c.ensured = true
	}

	var runErr error
	for _, tid := range ids {
		out, err := s.handle(ctx, c, tid)
		rep.Outcomes = append(rep.Outcomes, out)
		if out.State == StateReplied || out.State == StateTagged {
			rep.Sent++
		}
		if err != nil {
			runErr = err
			break
		}
	}

	if err := s.Ledger.Flush(); err != nil {
		c.log.WarnContext(ctx, "ledger flush failed", "error", err)
	}
	c.log.InfoContext(ctx, "message processing completed",
		slog.Int("threads", len(ids)),
		slog.Int("sent", rep.Sent),
		slog.Int("skipped", rep.Skipped()),
	)
	return rep, runErr
}

func (s *Service) handle(ctx context.Context, c *cycle, id gmail.ThreadID) (Outcome, error) {
	out := Outcome{Thread: id}
	log := c.log.With("thread", string(id))

	if s.Options.KeyMode == KeyThread && s.Ledger.Contains(string(id)) {
		return s.skip(ctx, log, out, ReasonLedger), nil
	}

	if err := s.wait(ctx, "rate limit threads"); err != nil {
		return out, err
	}
	th, err := s.Client.GetThread(ctx, id)
	if err != nil {
		return out, fmt.Errorf("get thread %s: %w", id, err)
	}
	out.State = StateFetched

	if th.HasLabel(c.labelID) {
		return s.skip(ctx, log, out, ReasonLabel), nil
	}
	latest, ok := th.Latest()
	if !ok {
		return s.skip(ctx, log, out, ReasonNoMessages), nil
	}
	sender, ok := parseSender(headerValue(latest.Headers, "From"))
	if !ok {
		return s.skip(ctx, log, out, ReasonNoSender), nil
	}
	out.Sender = sender.Address
	log = log.With("sender", sender.Address)
	if sameAddress(s.Options.Self, sender.Address) {
		return s.skip(ctx, log, out, ReasonSelf), nil
	}
	key := s.dedupKey(id, sender.Address)
	if s.Options.KeyMode == KeySender && s.Ledger.Contains(key) {
		return s.skip(ctx, log, out, ReasonLedger), nil
	}
	out.State = StateFiltered

	parent := parseMessageID(headerValue(latest.Headers, "Message-Id"))
	raw, err := compose(s.Options.Self, sender, s.Options.Template, parent, s.Clock())
	if err != nil {
		return out, fmt.Errorf("compose reply for %s: %w", id, err)
	}
	if err := s.wait(ctx, "rate limit send"); err != nil {
		return out, err
	}
	log.InfoContext(ctx, "replying")
	if err := s.Client.Send(ctx, gmail.Outgoing{From: s.Options.Self, To: sender.Address, Raw: raw}); err != nil {
		return out, fmt.Errorf("send reply for %s: %w", id, err)
	}
	out.State = StateReplied

	if err := s.Ledger.Record(key); err != nil {
		log.WarnContext(ctx, "ledger write failed; label still marks the thread", "error", err)
	}
	if err := s.tag(ctx, c, id); err != nil {
		return out, err
	}
	out.State = StateTagged
	log.InfoContext(ctx, "marked as replied", "state", out.State)
	return out, nil
}

func (s *Service) tag(ctx context.Context, c *cycle, id gmail.ThreadID) error {
	if !c.ensured {
		if err := s.wait(ctx, "rate limit labels"); err != nil {
			return err
		}
		lid, err := s.Client.EnsureLabel(ctx, s.Options.Label)
		if err != nil {
			return fmt.Errorf("ensure label %q: %w", s.Options.Label, err)
		}
		c.labelID = lid
		c.ensured = true
		c.log.InfoContext(ctx, "label ready", "label", s.Options.Label, "id", string(lid))
	}
	if err := s.wait(ctx, "rate limit modify"); err != nil {
		return err
	}
	ops := gmail.ModifyOps{
		AddLabels: []gmail.LabelID{c.labelID},
		MarkRead:  true,
	}
	if err := s.Client.ModifyThread(ctx, id, ops); err != nil {
		return fmt.Errorf("label thread %s: %w", id, err)
	}
	return nil
}

func (s *Service) skip(ctx context.Context, log *slog.Logger, out Outcome, reason string) Outcome {
	out.State = StateSkipped
	out.Reason = reason
	log.InfoContext(ctx, "skipping", "reason", reason)
	return out
}

func (s *Service) dedupKey(id gmail.ThreadID, sender string) string {
	if s.Options.KeyMode == KeySender {
		return normalizeAddress(sender)
	}
	return string(id)
}

func (s *Service) listUnread(ctx context.Context) ([]gmail.ThreadID, error) {
	var (
		all   []gmail.ThreadID
		token string
	)
	for {
		if err := s.wait(ctx, "rate limit list"); err != nil {
			return nil, err
		}
		page, err := s.Client.ListUnread(ctx, token, s.Options.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list unread: %w", err)
		}
		all = append(all, page.IDs...)
		if page.NextPageToken == "" || page.NextPageToken == token {
			break
		}
		token = page.NextPageToken
	}
	return all, nil
}

func (s *Service) wait(ctx context.Context, operation string) error {
	return rate.Wait(ctx, s.Limiter, operation)
}

// ResolveSelf fills Options.Self from the provider profile when unset.
func (s *Service) ResolveSelf(ctx context.Context) error {
	if s.Options.Self != "" {
		return nil
	}
	if err := s.wait(ctx, "rate limit profile"); err != nil {
		return err
	}
	addr, err := s.Client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("lookup own address: %w", err)
	}
	if addr == "" {
		return errors.New("provider returned an empty own address")
	}
	s.Options.Self = addr
	return nil
}
