package reply

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Template is the fixed acknowledgement sent to every new conversation.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplate is the stock acknowledgement.
var DefaultTemplate = Template{
	Subject: "Re: Your Message",
	Body:    "Thanks for contacting.",
}

// compose renders a single-part text/plain UTF-8 message. A non-empty
// inReplyTo threads the reply under the original message.
func compose(from string, to *mail.Address, tpl Template, inReplyTo string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("To", []*mail.Address{to})
	if from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}
	h.SetSubject(tpl.Subject)
	if inReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{inReplyTo})
		h.SetMsgIDList("References", []string{inReplyTo})
	}
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "UTF-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, tpl.Body); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
