package gmail

import "context"

// Client is the narrow mailbox surface required by chronoreply.
type Client interface {
	ListUnread(ctx context.Context, pageToken string, pageSize int) (ListPage, error)
	GetThread(ctx context.Context, id ThreadID) (Thread, error)
	Send(ctx context.Context, msg Outgoing) error
	LookupLabel(ctx context.Context, name string) (LabelID, bool, error)
	EnsureLabel(ctx context.Context, name string) (LabelID, error)
	ModifyThread(ctx context.Context, id ThreadID, ops ModifyOps) error
	Profile(ctx context.Context) (string, error)
}
