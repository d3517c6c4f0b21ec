package gmail

import (
	"context"

	gmailapi "google.golang.org/api/gmail/v1"
)

// mailbox Source 用到的 Gmail 操作
type mailbox interface {
	// ListMessageIDs 按时间倒序返回邮件 id
	ListMessageIDs(ctx context.Context, query string, labels []string, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmailapi.Message, error)
	// GetAttachment 返回 base64url 编码的附件内容
	GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error)
}

type apiMailbox struct {
	svc  *gmailapi.Service
	user string
}

func (m *apiMailbox) ListMessageIDs(ctx context.Context, query string, labels []string, max int64) ([]string, error) {
	call := m.svc.Users.Messages.List(m.user).Context(ctx)
	if len(labels) > 0 {
		call = call.LabelIds(labels...)
	}
	if query != "" {
		call = call.Q(query)
	}
	if max > 0 {
		call = call.MaxResults(max)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, nil
}

func (m *apiMailbox) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	return m.svc.Users.Messages.Get(m.user, id).Format("full").Context(ctx).Do()
}

func (m *apiMailbox) GetAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	body, err := m.svc.Users.Messages.Attachments.Get(m.user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return body.Data, nil
}
