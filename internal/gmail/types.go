// internal/gmail/types.go
package gmail

type ThreadID string
type LabelID string

// Provider-defined label ids.
const (
	LabelUnread LabelID = "UNREAD"
	LabelInbox  LabelID = "INBOX"
)

type Message struct {
	ID      string
	Labels  []LabelID
	Headers map[string]string // From, Message-Id
}

// Thread is a conversation with its messages oldest first.
type Thread struct {
	ID       ThreadID
	Messages []Message
	Labels   []LabelID // union of the labels carried by Messages
}

// Latest returns the newest message of the thread.
func (t Thread) Latest() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// HasLabel reports whether any message of the thread carries id.
func (t Thread) HasLabel(id LabelID) bool {
	if id == "" {
		return false
	}
	for _, l := range t.Labels {
		if l == id {
			return true
		}
	}
	return false
}

type ListPage struct {
	IDs           []ThreadID
	NextPageToken string
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
	MarkRead     bool // implies removing UNREAD
}

// Outgoing is a fully composed RFC 5322 message plus its envelope.
type Outgoing struct {
	From string
	To   string
	Raw  []byte
}

// UnionLabels merges the label sets of msgs preserving first-seen order.
func UnionLabels(msgs []Message) []LabelID {
	seen := map[LabelID]struct{}{}
	var out []LabelID
	for _, m := range msgs {
		for _, l := range m.Labels {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}
