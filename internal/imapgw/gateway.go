// Package imapgw implements the mailbox client over IMAP and SMTP for
// providers without a Gmail-style API. Threads are single messages keyed by
// mailbox, UIDVALIDITY and UID; labels are IMAP keywords.
package imapgw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	gc "github.com/joshsymonds/chronoreply/internal/gmail"
)

// Config describes the IMAP and SMTP endpoints of one mailbox.
type Config struct {
	IMAPAddr string
	SMTPAddr string
	Username string
	Password string
	Mailbox  string
}

// Gateway holds one lazily dialed IMAP session.
type Gateway struct {
	cfg Config

	mu       sync.Mutex
	c        *client.Client
	validity uint32

	// Dial and SendMail are replaceable in tests.
	Dial     func(addr string) (*client.Client, error)
	SendMail func(addr string, a sasl.Client, from string, to []string, msg []byte) error
}

func New(cfg Config) *Gateway {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Gateway{
		cfg:      cfg,
		Dial:     func(addr string) (*client.Client, error) { return client.DialTLS(addr, nil) },
		SendMail: sendMail,
	}
}

// Close logs out of the IMAP session if one is open.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c == nil {
		return nil
	}
	err := g.c.Logout()
	g.c = nil
	return err
}

// session returns a logged-in client with the mailbox selected, redialing
// when the previous connection dropped. Callers hold g.mu.
func (g *Gateway) session(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.c != nil {
		select {
		case <-g.c.LoggedOut():
			g.c = nil
		default:
			if g.c.State() != imap.LogoutState {
				return g.c, nil
			}
			g.c = nil
		}
	}
	c, err := g.Dial(g.cfg.IMAPAddr)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", g.cfg.IMAPAddr, err)
	}
	if err := c.Login(g.cfg.Username, g.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login %s: %w", g.cfg.Username, err)
	}
	status, err := c.Select(g.cfg.Mailbox, false)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", g.cfg.Mailbox, err)
	}
	g.c = c
	g.validity = status.UidValidity
	return c, nil
}

// drop discards the session after a failed command so the next call redials.
func (g *Gateway) drop() {
	if g.c != nil {
		_ = g.c.Logout()
		g.c = nil
	}
}

func (g *Gateway) ListUnread(ctx context.Context, pageToken string, pageSize int) (gc.ListPage, error) {
	_ = pageToken
	_ = pageSize
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.session(ctx)
	if err != nil {
		return gc.ListPage{}, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag, imap.DeletedFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		g.drop()
		return gc.ListPage{}, fmt.Errorf("search unseen: %w", err)
	}
	ids := make([]gc.ThreadID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, threadID(g.cfg.Mailbox, g.validity, uid))
	}
	return gc.ListPage{IDs: ids}, nil
}

func (g *Gateway) GetThread(ctx context.Context, id gc.ThreadID) (gc.Thread, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.session(ctx)
	if err != nil {
		return gc.Thread{}, err
	}
	uid, err := g.resolve(id)
	if err != nil {
		return gc.Thread{}, err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqset, items, ch) }()

	th := gc.Thread{ID: id}
	for msg := range ch {
		th.Messages = append(th.Messages, toMessage(msg))
	}
	if err := <-done; err != nil {
		g.drop()
		return gc.Thread{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	th.Labels = gc.UnionLabels(th.Messages)
	return th, nil
}

func (g *Gateway) Send(ctx context.Context, msg gc.Outgoing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := msg.From
	if from == "" {
		from = g.cfg.Username
	}
	auth := sasl.NewPlainClient("", g.cfg.Username, g.cfg.Password)
	if err := g.SendMail(g.cfg.SMTPAddr, auth, from, []string{msg.To}, msg.Raw); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// LookupLabel always succeeds: keywords exist once they are stored.
func (g *Gateway) LookupLabel(ctx context.Context, name string) (gc.LabelID, bool, error) {
	_ = ctx
	if err := validKeyword(name); err != nil {
		return "", false, err
	}
	return gc.LabelID(name), true, nil
}

func (g *Gateway) EnsureLabel(ctx context.Context, name string) (gc.LabelID, error) {
	id, _, err := g.LookupLabel(ctx, name)
	return id, err
}

func (g *Gateway) ModifyThread(ctx context.Context, id gc.ThreadID, ops gc.ModifyOps) error {
	add, remove := storeFlags(ops)
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.session(ctx)
	if err != nil {
		return err
	}
	uid, err := g.resolve(id)
	if err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if len(add) > 0 {
		if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), add, nil); err != nil {
			g.drop()
			return fmt.Errorf("store flags uid %d: %w", uid, err)
		}
	}
	if len(remove) > 0 {
		if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.RemoveFlags, true), remove, nil); err != nil {
			g.drop()
			return fmt.Errorf("clear flags uid %d: %w", uid, err)
		}
	}
	return nil
}

func (g *Gateway) Profile(ctx context.Context) (string, error) {
	_ = ctx
	if strings.Contains(g.cfg.Username, "@") {
		return g.cfg.Username, nil
	}
	return "", errors.New("imap username is not an address; set mailbox.address")
}

// ErrStaleThread reports a thread id minted for another mailbox or an earlier
// UIDVALIDITY epoch; its UID may now name a different message.
var ErrStaleThread = errors.New("stale imap thread id")

// resolve maps a thread id onto a UID of the selected mailbox. Callers hold
// g.mu with a live session.
func (g *Gateway) resolve(id gc.ThreadID) (uint32, error) {
	mailbox, validity, uid, err := parseThreadID(id)
	if err != nil {
		return 0, err
	}
	if mailbox != g.cfg.Mailbox || validity != g.validity {
		return 0, fmt.Errorf("%w: %q (selected %s:%d)", ErrStaleThread, id, g.cfg.Mailbox, g.validity)
	}
	return uid, nil
}

// threadID renders <mailbox>:<uidvalidity>:<uid>.
func threadID(mailbox string, validity, uid uint32) gc.ThreadID {
	return gc.ThreadID(mailbox + ":" + strconv.FormatUint(uint64(validity), 10) + ":" + strconv.FormatUint(uint64(uid), 10))
}

// parseThreadID splits on the last two colons since mailbox names may
// contain one.
func parseThreadID(id gc.ThreadID) (mailbox string, validity, uid uint32, err error) {
	s := string(id)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, 0, fmt.Errorf("invalid imap thread id %q", id)
	}
	j := strings.LastIndexByte(s[:i], ':')
	if j <= 0 {
		return "", 0, 0, fmt.Errorf("invalid imap thread id %q", id)
	}
	v, verr := strconv.ParseUint(s[j+1:i], 10, 32)
	u, uerr := strconv.ParseUint(s[i+1:], 10, 32)
	if verr != nil || uerr != nil || u == 0 {
		return "", 0, 0, fmt.Errorf("invalid imap thread id %q", id)
	}
	return s[:j], uint32(v), uint32(u), nil
}

func toMessage(msg *imap.Message) gc.Message {
	out := gc.Message{
		ID:      strconv.FormatUint(uint64(msg.Uid), 10),
		Headers: map[string]string{},
	}
	for _, f := range msg.Flags {
		if f == imap.SeenFlag {
			continue
		}
		out.Labels = append(out.Labels, gc.LabelID(f))
	}
	if !hasFlag(msg.Flags, imap.SeenFlag) {
		out.Labels = append(out.Labels, gc.LabelUnread)
	}
	if env := msg.Envelope; env != nil {
		if env.MessageId != "" {
			out.Headers["Message-Id"] = env.MessageId
		}
		if len(env.From) > 0 && env.From[0] != nil {
			out.Headers["From"] = formatAddress(env.From[0])
		}
	}
	return out
}

func formatAddress(a *imap.Address) string {
	if a.MailboxName == "" || a.HostName == "" {
		return ""
	}
	addr := a.MailboxName + "@" + a.HostName
	if a.PersonalName == "" {
		return addr
	}
	return strconv.Quote(a.PersonalName) + " <" + addr + ">"
}

// storeFlags maps label operations onto IMAP flags. UNREAD is the absence of \Seen.
func storeFlags(ops gc.ModifyOps) (add, remove []interface{}) {
	markRead := ops.MarkRead
	for _, l := range ops.RemoveLabels {
		if l == gc.LabelUnread {
			markRead = true
			continue
		}
		remove = append(remove, string(l))
	}
	for _, l := range ops.AddLabels {
		if l == gc.LabelUnread {
			remove = append(remove, imap.SeenFlag)
			continue
		}
		add = append(add, string(l))
	}
	if markRead {
		add = append(add, imap.SeenFlag)
	}
	return add, remove
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// validKeyword enforces the RFC 3501 atom rules for user keywords.
func validKeyword(name string) error {
	if name == "" || strings.HasPrefix(name, "\\") {
		return fmt.Errorf("invalid imap keyword %q", name)
	}
	for _, r := range name {
		if r <= 0x20 || r >= 0x7f || strings.ContainsRune(`(){%*"\]`, r) {
			return fmt.Errorf("invalid imap keyword %q", name)
		}
	}
	return nil
}

func sendMail(addr string, a sasl.Client, from string, to []string, msg []byte) error {
	if _, port, err := net.SplitHostPort(addr); err == nil && port == "465" {
		return smtp.SendMailTLS(addr, a, from, to, bytes.NewReader(msg))
	}
	return smtp.SendMail(addr, a, from, to, bytes.NewReader(msg))
}

var _ gc.Client = (*Gateway)(nil)
