// internal/runtime/googleapi.go — adapts *gmail.Service to our small interface
package runtime

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/chronoreply/internal/gmail"
)

const (
	userID             = "me"
	defaultUnreadQuery = "in:inbox is:unread"
)

var threadHeaders = []string{"From", "Message-ID"}

type googleClient struct {
	svc   *gmail.Service
	query string
}

func NewGoogleAPIClient(svc *gmail.Service, query string) *googleClient {
	if query == "" {
		query = defaultUnreadQuery
	}
	return &googleClient{svc: svc, query: query}
}

func (g *googleClient) ListUnread(ctx context.Context, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Threads.List(userID).Q(g.query)
	if pageSize > 0 {
		call = call.MaxResults(int64(pageSize))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, err
	}
	ids := make([]gc.ThreadID, 0, len(res.Threads))
	for _, t := range res.Threads {
		ids = append(ids, gc.ThreadID(t.Id))
	}
	return gc.ListPage{IDs: ids, NextPageToken: res.NextPageToken}, nil
}

func (g *googleClient) GetThread(ctx context.Context, id gc.ThreadID) (gc.Thread, error) {
	th, err := g.svc.Users.Threads.Get(userID, string(id)).
		Format("metadata").
		MetadataHeaders(threadHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return gc.Thread{}, err
	}
	return toThread(th), nil
}

func (g *googleClient) Send(ctx context.Context, msg gc.Outgoing) error {
	raw := base64.URLEncoding.EncodeToString(msg.Raw)
	_, err := g.svc.Users.Messages.Send(userID, &gmail.Message{Raw: raw}).Context(ctx).Do()
	return err
}

func (g *googleClient) listLabels(ctx context.Context) (map[string]gc.LabelID, error) {
	lr, err := g.svc.Users.Labels.List(userID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	byName := map[string]gc.LabelID{}
	for _, l := range lr.Labels {
		byName[l.Name] = gc.LabelID(l.Id)
	}
	return byName, nil
}

func (g *googleClient) LookupLabel(ctx context.Context, name string) (gc.LabelID, bool, error) {
	byName, err := g.listLabels(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := byName[name]
	return id, ok, nil
}

func (g *googleClient) EnsureLabel(ctx context.Context, name string) (gc.LabelID, error) {
	id, ok, err := g.LookupLabel(ctx, name)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	created, err := g.svc.Users.Labels.Create(userID, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	return gc.LabelID(created.Id), nil
}

func (g *googleClient) ModifyThread(ctx context.Context, id gc.ThreadID, ops gc.ModifyOps) error {
	_, err := g.svc.Users.Threads.Modify(userID, string(id), toModifyRequest(ops)).Context(ctx).Do()
	return err
}

func (g *googleClient) Profile(ctx context.Context) (string, error) {
	p, err := g.svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return p.EmailAddress, nil
}

func toModifyRequest(ops gc.ModifyOps) *gmail.ModifyThreadRequest {
	req := &gmail.ModifyThreadRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = toStrings(ops.AddLabels)
	}
	remove := ops.RemoveLabels
	if ops.MarkRead && !containsLabel(remove, gc.LabelUnread) {
		remove = append(append([]gc.LabelID(nil), remove...), gc.LabelUnread)
	}
	if len(remove) > 0 {
		req.RemoveLabelIds = toStrings(remove)
	}
	return req
}

func toThread(th *gmail.Thread) gc.Thread {
	out := gc.Thread{ID: gc.ThreadID(th.Id)}
	for _, m := range th.Messages {
		if m == nil {
			continue
		}
		msg := gc.Message{
			ID:      m.Id,
			Labels:  toLabelIDs(m.LabelIds),
			Headers: map[string]string{},
		}
		if m.Payload != nil {
			for _, h := range m.Payload.Headers {
				// first occurrence wins
				if _, ok := msg.Headers[h.Name]; !ok {
					msg.Headers[h.Name] = h.Value
				}
			}
		}
		out.Messages = append(out.Messages, msg)
	}
	out.Labels = gc.UnionLabels(out.Messages)
	return out
}

func toStrings(ids []gc.LabelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}

func containsLabel(ids []gc.LabelID, want gc.LabelID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

var _ gc.Client = (*googleClient)(nil)
