package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
)

type fakeMailbox struct {
	ids         []string
	messages    map[string]*gmailapi.Message
	attachments map[string]string
	query       string
}

func (f *fakeMailbox) ListMessageIDs(_ context.Context, query string, _ []string, _ int64) ([]string, error) {
	f.query = query
	return f.ids, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string) (*gmailapi.Message, error) {
	return f.messages[id], nil
}

func (f *fakeMailbox) GetAttachment(_ context.Context, _, attachmentID string) (string, error) {
	data, ok := f.attachments[attachmentID]
	if !ok {
		return "", errors.New("attachment not found")
	}
	return data, nil
}

func message(subject string, parts ...*gmailapi.MessagePart) *gmailapi.Message {
	return &gmailapi.Message{Payload: &gmailapi.MessagePart{
		MimeType: "multipart/mixed",
		Headers:  []*gmailapi.MessagePartHeader{{Name: "Subject", Value: subject}},
		Parts:    parts,
	}}
}

const csvReport = "Клиент.Код;Количество\n01.03.2024;\nC1;5\n"

func newTestSource(box mailbox) *Source {
	logger, _ := test.NewNullLogger()
	return &Source{box: box, cfg: config.MailConfig{Query: "has:attachment"}, logger: logger}
}

func TestFetchPicksNewestMatchingMessage(t *testing.T) {
	box := &fakeMailbox{
		ids: []string{"m3", "m2", "m1"},
		messages: map[string]*gmailapi.Message{
			"m3": message("Re: другое письмо"),
			"m2": message("Продажи СТН (auto) от 02.03.2024 07:30:00",
				&gmailapi.MessagePart{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: "aGk"}},
				&gmailapi.MessagePart{MimeType: "multipart/alternative", Parts: []*gmailapi.MessagePart{{
					Filename: "report.csv",
					Body:     &gmailapi.MessagePartBody{AttachmentId: "att-1"},
				}}},
			),
			"m1": message("Продажи СТН (auto) от 01.03.2024 07:30:00"),
		},
		attachments: map[string]string{
			"att-1": base64.RawURLEncoding.EncodeToString([]byte(csvReport)),
		},
	}

	report, err := newTestSource(box).Fetch(context.Background(), "Продажи СТН (auto) от ")
	require.NoError(t, err)
	assert.Equal(t, "Продажи СТН (auto) от 02.03.2024 07:30:00", report.Subject)
	assert.Equal(t, "report.csv", report.Filename)
	assert.Equal(t, []byte(csvReport), report.Blob)
	require.Len(t, report.Table, 3)
	assert.Equal(t, []string{"C1", "5"}, report.Table[2])
	assert.Contains(t, box.query, "has:attachment")
}

func TestFetchInlineAttachmentWithPadding(t *testing.T) {
	box := &fakeMailbox{
		ids: []string{"m1"},
		messages: map[string]*gmailapi.Message{
			"m1": message("Продажи от 01.03.2024 07:30", &gmailapi.MessagePart{
				Filename: "REPORT.CSV",
				Body:     &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(csvReport))},
			}),
		},
	}
	report, err := newTestSource(box).Fetch(context.Background(), "Продажи от ")
	require.NoError(t, err)
	assert.Len(t, report.Table, 3)
}

func TestFetchLegacyXLSAttachment(t *testing.T) {
	xls := &gmailapi.MessagePart{Filename: "Продажи.xls", Body: &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte{0xD0, 0xCF, 0x11, 0xE0})}}
	csv := &gmailapi.MessagePart{Filename: "Продажи.csv", Body: &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(csvReport))}}

	t.Run("only xls", func(t *testing.T) {
		box := &fakeMailbox{ids: []string{"m1"}, messages: map[string]*gmailapi.Message{
			"m1": message("Продажи от 01.03.2024 07:30", xls),
		}}
		_, err := newTestSource(box).Fetch(context.Background(), "Продажи от ")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrMalformedReport)
		assert.NotErrorIs(t, err, apperr.ErrSourceNotFound)
		assert.Contains(t, err.Error(), ".xls")
	})

	t.Run("xls next to csv", func(t *testing.T) {
		box := &fakeMailbox{ids: []string{"m1"}, messages: map[string]*gmailapi.Message{
			"m1": message("Продажи от 01.03.2024 07:30", xls, csv),
		}}
		report, err := newTestSource(box).Fetch(context.Background(), "Продажи от ")
		require.NoError(t, err)
		assert.Equal(t, "Продажи.csv", report.Filename)
	})
}

func TestFetchNotFound(t *testing.T) {
	cases := map[string]*fakeMailbox{
		"no matching subject": {
			ids:      []string{"m1"},
			messages: map[string]*gmailapi.Message{"m1": message("Счет на оплату")},
		},
		"no spreadsheet attachment": {
			ids: []string{"m1"},
			messages: map[string]*gmailapi.Message{"m1": message("Продажи от 01.03.2024 07:30",
				&gmailapi.MessagePart{Filename: "readme.pdf", Body: &gmailapi.MessagePartBody{AttachmentId: "x"}})},
		},
		"empty inbox": {},
	}
	for name, box := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestSource(box).Fetch(context.Background(), "Продажи от ")
			assert.ErrorIs(t, err, apperr.ErrSourceNotFound)
		})
	}
}
