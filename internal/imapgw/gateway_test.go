package imapgw

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gc "github.com/joshsymonds/chronoreply/internal/gmail"
)

func TestThreadIDRoundTrip(t *testing.T) {
	id := threadID("INBOX", 1700, 42)
	assert.Equal(t, gc.ThreadID("INBOX:1700:42"), id)

	mailbox, validity, uid, err := parseThreadID(id)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", mailbox)
	assert.Equal(t, uint32(1700), validity)
	assert.Equal(t, uint32(42), uid)

	mailbox, validity, uid, err = parseThreadID(threadID("Lists:golang", 3, 9))
	require.NoError(t, err)
	assert.Equal(t, "Lists:golang", mailbox)
	assert.Equal(t, uint32(3), validity)
	assert.Equal(t, uint32(9), uid)

	for _, bad := range []gc.ThreadID{"", "42", "INBOX:42", ":1:42", "INBOX:1:0", "INBOX:x:4", "INBOX:1:99999999999"} {
		_, _, _, err := parseThreadID(bad)
		assert.Error(t, err, "id %q", bad)
	}
}

func TestResolveRejectsOtherEpoch(t *testing.T) {
	g := New(Config{Mailbox: "INBOX"})
	g.validity = 5

	uid, err := g.resolve("INBOX:5:12")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), uid)

	_, err = g.resolve("INBOX:4:12")
	assert.ErrorIs(t, err, ErrStaleThread)
	_, err = g.resolve("Archive:5:12")
	assert.ErrorIs(t, err, ErrStaleThread)
}

func TestToMessage(t *testing.T) {
	msg := &imap.Message{
		Uid:   7,
		Flags: []string{"REPLIED", imap.FlaggedFlag},
		Envelope: &imap.Envelope{
			Date:      time.Date(2024, time.March, 9, 10, 0, 0, 0, time.UTC),
			Subject:   "hi",
			MessageId: "<m@x>",
			From:      []*imap.Address{{PersonalName: "Alice", MailboxName: "a", HostName: "x.com"}},
		},
	}
	got := toMessage(msg)
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, `"Alice" <a@x.com>`, got.Headers["From"])
	assert.Equal(t, "<m@x>", got.Headers["Message-Id"])
	assert.NotContains(t, got.Headers, "Subject")
	assert.Contains(t, got.Labels, gc.LabelID("REPLIED"))
	assert.Contains(t, got.Labels, gc.LabelUnread)

	msg.Flags = []string{imap.SeenFlag}
	got = toMessage(msg)
	assert.NotContains(t, got.Labels, gc.LabelUnread)
	assert.NotContains(t, got.Labels, gc.LabelID(imap.SeenFlag))
}

func TestStoreFlags(t *testing.T) {
	add, remove := storeFlags(gc.ModifyOps{AddLabels: []gc.LabelID{"REPLIED"}, MarkRead: true})
	assert.Equal(t, []interface{}{"REPLIED", imap.SeenFlag}, add)
	assert.Empty(t, remove)

	add, remove = storeFlags(gc.ModifyOps{RemoveLabels: []gc.LabelID{gc.LabelUnread, "OLD"}})
	assert.Equal(t, []interface{}{imap.SeenFlag}, add)
	assert.Equal(t, []interface{}{"OLD"}, remove)
}

func TestLabelsAreKeywords(t *testing.T) {
	g := New(Config{Username: "me@example.com"})
	id, err := g.EnsureLabel(context.Background(), "REPLIED")
	require.NoError(t, err)
	assert.Equal(t, gc.LabelID("REPLIED"), id)

	_, err = g.EnsureLabel(context.Background(), "has space")
	assert.Error(t, err)
	_, err = g.EnsureLabel(context.Background(), `\Seen`)
	assert.Error(t, err)
}

func TestSendUsesEnvelope(t *testing.T) {
	g := New(Config{SMTPAddr: "smtp.example.com:587", Username: "me@example.com", Password: "pw"})
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  []byte
	)
	g.SendMail = func(addr string, a sasl.Client, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := g.Send(context.Background(), gc.Outgoing{To: "a@x.com", Raw: []byte("raw")})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "me@example.com", gotFrom)
	assert.Equal(t, []string{"a@x.com"}, gotTo)
	assert.Equal(t, []byte("raw"), gotMsg)
}

func TestProfile(t *testing.T) {
	addr, err := New(Config{Username: "me@example.com"}).Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", addr)

	_, err = New(Config{Username: "me"}).Profile(context.Background())
	assert.Error(t, err)
}
