package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"SalesSync/internal/adapter"
	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"
	"SalesSync/internal/model"
	"SalesSync/internal/tabular"

	"github.com/sirupsen/logrus"
	gmailapi "google.golang.org/api/gmail/v1"
)

// Kind 配置 mail.source 中的名称
const Kind = "gmail"

func init() {
	adapter.Register(Kind, func(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.TabularSource, error) {
		svc, err := NewService(ctx, cfg.Mail, logger)
		if err != nil {
			return nil, err
		}
		return NewSource(svc, cfg.Mail, logger), nil
	})
}

// Source 从 Gmail 中取最新一封主题匹配的报表邮件
type Source struct {
	box    mailbox
	cfg    config.MailConfig
	logger *logrus.Logger
}

func NewSource(svc *gmailapi.Service, cfg config.MailConfig, logger *logrus.Logger) *Source {
	user := cfg.User
	if user == "" {
		user = "me"
	}
	return &Source{box: &apiMailbox{svc: svc, user: user}, cfg: cfg, logger: logger}
}

func (s *Source) Fetch(ctx context.Context, subjectKeyword string) (*model.Report, error) {
	query := strings.TrimSpace(fmt.Sprintf("subject:(%q) %s", subjectKeyword, s.cfg.Query))
	ids, err := s.box.ListMessageIDs(ctx, query, s.cfg.Labels, s.cfg.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("查询邮件列表失败: %w", err)
	}

	for _, id := range ids {
		msg, err := s.box.GetMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("读取邮件%s失败: %w", id, err)
		}
		subject := header(msg.Payload, "Subject")
		if !strings.Contains(subject, subjectKeyword) {
			continue
		}

		log := s.logger.WithFields(logrus.Fields{"message_id": id, "subject": subject})
		part := findSpreadsheet(msg.Payload)
		if part == nil {
			log.Warn("最新的报表邮件没有表格附件")
			return nil, fmt.Errorf("%w: message %s has no spreadsheet attachment", apperr.ErrSourceNotFound, id)
		}

		data := part.Body.Data
		if data == "" && part.Body.AttachmentId != "" {
			if data, err = s.box.GetAttachment(ctx, id, part.Body.AttachmentId); err != nil {
				return nil, fmt.Errorf("下载附件失败: %w", err)
			}
		}
		blob, err := decodeBase64URL(data)
		if err != nil {
			return nil, fmt.Errorf("附件解码失败: %w", err)
		}
		table, err := tabular.Decode(part.Filename, blob)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"filename": part.Filename, "rows": len(table)}).Info("已获取报表附件")
		return &model.Report{Subject: subject, Filename: part.Filename, Blob: blob, Table: table}, nil
	}
	return nil, fmt.Errorf("%w: no message with subject containing %q", apperr.ErrSourceNotFound, subjectKeyword)
}

func header(part *gmailapi.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// findSpreadsheet 优先取可解析的表格附件；只有旧版 .xls 时也返回它，由解码给出格式错误
func findSpreadsheet(part *gmailapi.MessagePart) *gmailapi.MessagePart {
	if found := findPart(part, tabular.CanDecode); found != nil {
		return found
	}
	return findPart(part, tabular.IsSpreadsheet)
}

// findPart 深度优先查找附件（附件可能嵌套在 multipart/mixed 中）
func findPart(part *gmailapi.MessagePart, match func(string) bool) *gmailapi.MessagePart {
	if part == nil {
		return nil
	}
	if part.Filename != "" && part.Body != nil && match(part.Filename) {
		return part
	}
	for _, child := range part.Parts {
		if found := findPart(child, match); found != nil {
			return found
		}
	}
	return nil
}

// decodeBase64URL Gmail 返回的内容为 base64url，是否带填充不固定
func decodeBase64URL(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if strings.HasSuffix(data, "=") {
		return base64.URLEncoding.DecodeString(data)
	}
	return base64.RawURLEncoding.DecodeString(data)
}
