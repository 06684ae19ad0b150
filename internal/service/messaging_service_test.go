package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

func approvedTemplate(t *testing.T, h *harness, name, category string) {
	t.Helper()
	tpl, err := h.templates.Create(context.Background(), TemplateInput{
		Name:       name,
		Language:   "en_US",
		Category:   category,
		Components: bodyComponent("Hi {{1}}, your code is {{2}}"),
	})
	require.NoError(t, err)
	require.NoError(t, h.templates.ApplyStatusUpdate(context.Background(), tpl.ProviderTemplateID, "APPROVED", ""))
}

func TestSendMessageRequiresOpenWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "hello"})
	requireCode(t, err, apperrors.CodeValidation)
	assert.Contains(t, err.Error(), "window is closed")

	h.ingestText(t, "wamid.in.win", h.now.Add(-25*time.Hour))
	_, err = h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "hello"})
	requireCode(t, err, apperrors.CodeValidation)
	assert.Empty(t, h.graph.sent)
}

func TestTemplateSendDoesNotOpenSessionWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	approvedTemplate(t, h, "promo", "MARKETING")

	_, err := h.messaging.SendTemplate(ctx, SendTemplateInput{To: testCustomer, Name: "promo", Language: "en_US", Parameters: []string{"Ada", "1"}})
	require.NoError(t, err)
	_, err = h.messaging.SendTemplate(ctx, SendTemplateInput{To: testCustomer, Name: "promo", Language: "en_US", Parameters: []string{"Ada", "2"}})
	require.NoError(t, err)

	conv, err := h.conversations.FindByCustomer(ctx, testCustomer, testBusinessPhone)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusActive, conv.EffectiveStatus(h.now))
	assert.Nil(t, conv.LastInboundAt)

	_, err = h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "following up"})
	requireCode(t, err, apperrors.CodeValidation)
	assert.Contains(t, err.Error(), "window is closed")
	assert.Len(t, h.graph.sent, 2)

	// the customer replies and the window opens
	h.ingestText(t, "wamid.in.reply", h.now)
	_, err = h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "thanks"})
	require.NoError(t, err)
	assert.Len(t, h.graph.sent, 3)
}

func TestOutboundSendsDoNotExtendSessionWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ingestText(t, "wamid.in.aging", h.now.Add(-23*time.Hour))

	_, err := h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "still there?"})
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Hour)
	_, err = h.messaging.SendMessage(ctx, SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "ping"})
	requireCode(t, err, apperrors.CodeValidation)
	assert.Len(t, h.graph.sent, 1)
}

func TestSendTextInsideWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ingestText(t, "wamid.in.open", h.now.Add(-time.Hour))

	msg, err := h.messaging.SendMessage(ctx, SendMessageInput{
		To:      "+" + testCustomer,
		Type:    domain.MessageTypeText,
		Text:    "  hello there  ",
		ReplyTo: "wamid.in.open",
		Actor:   events.Actor{ID: "agent-1", Type: domain.SubjectTypeOperator},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	assert.Equal(t, "hello there", msg.Content.Text)

	require.Len(t, h.graph.sent, 1)
	sent := h.graph.sent[0]
	assert.Equal(t, testCustomer, sent.To)
	require.NotNil(t, sent.Context)
	assert.Equal(t, "wamid.in.open", sent.Context.MessageID)

	conv, err := h.conversations.Get(ctx, msg.ConversationID)
	require.NoError(t, err)
	assert.WithinDuration(t, h.now.Add(24*time.Hour), conv.ExpiresAt, time.Second)
	assert.Equal(t, 1, h.events.count(events.EventMessageSent))
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ingestText(t, "wamid.in.val", h.now)
	doc := uploadPNG(t, h, pngBytes)

	cases := []struct {
		name string
		in   SendMessageInput
	}{
		{"bad recipient", SendMessageInput{To: "abc", Type: domain.MessageTypeText, Text: "x"}},
		{"empty text", SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "   "}},
		{"media type mismatch", SendMessageInput{To: testCustomer, Type: domain.MessageTypeDocument, MediaID: doc}},
		{"missing media id", SendMessageInput{To: testCustomer, Type: domain.MessageTypeImage}},
		{"location out of range", SendMessageInput{To: testCustomer, Type: domain.MessageTypeLocation, Location: &domain.Location{Latitude: 91}}},
		{"bad interactive", SendMessageInput{To: testCustomer, Type: domain.MessageTypeInteractive, Interactive: json.RawMessage(`{`)}},
		{"unsupported type", SendMessageInput{To: testCustomer, Type: domain.MessageTypeReaction}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.messaging.SendMessage(ctx, tc.in)
			requireCode(t, err, apperrors.CodeValidation)
		})
	}
	assert.Empty(t, h.graph.sent)
}

func TestSendMessageSurfacesProviderErrors(t *testing.T) {
	h := newHarness(t)
	h.ingestText(t, "wamid.in.err", h.now)
	h.graph.sendErr = apperrors.NewUpstreamError("send message", http.StatusBadRequest, []byte(`{"error":{"code":131047}}`))

	_, err := h.messaging.SendMessage(context.Background(), SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "hi"})
	requireCode(t, err, apperrors.CodeUpstream)
	status, ok := apperrors.UpstreamStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSendTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	approvedTemplate(t, h, "otp", "MARKETING")

	// templates may start a conversation
	msg, err := h.messaging.SendTemplate(ctx, SendTemplateInput{
		To:         testCustomer,
		Name:       "otp",
		Language:   "en_US",
		Parameters: []string{"Ada", "1234"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeTemplate, msg.Type)
	require.NotNil(t, msg.Content.Template)
	assert.Equal(t, []string{"Ada", "1234"}, msg.Content.Template.Parameters)

	conv, err := h.conversations.Get(ctx, msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationTypeMarketing, conv.Type)

	require.Len(t, h.graph.sent, 1)
	tpl := h.graph.sent[0].Template
	require.NotNil(t, tpl)
	require.Len(t, tpl.Components, 1)
	assert.Len(t, tpl.Components[0].Parameters, 2)

	_, err = h.messaging.SendTemplate(ctx, SendTemplateInput{To: testCustomer, Name: "otp", Language: "en_US", Parameters: []string{"Ada"}})
	requireCode(t, err, apperrors.CodeValidation)
	_, err = h.messaging.SendTemplate(ctx, SendTemplateInput{To: testCustomer, Name: "missing", Language: "en_US"})
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestSendTemplateRequiresApproval(t *testing.T) {
	h := newHarness(t)
	createTemplate(t, h, "pending_one")
	_, err := h.messaging.SendTemplate(context.Background(), SendTemplateInput{
		To:         testCustomer,
		Name:       "pending_one",
		Language:   "en_US",
		Parameters: []string{"a", "b"},
	})
	requireCode(t, err, apperrors.CodeValidation)
	assert.Empty(t, h.graph.sent)
}

func TestSendBulkReportsPerItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ingestText(t, "wamid.in.bulk", h.now)
	approvedTemplate(t, h, "reminder", "UTILITY")

	results, err := h.messaging.SendBulk(ctx, []BulkSendItem{
		{Message: &SendMessageInput{To: testCustomer, Type: domain.MessageTypeText, Text: "one"}},
		{Message: &SendMessageInput{To: "15559990000", Type: domain.MessageTypeText, Text: "closed window"}},
		{Template: &SendTemplateInput{To: "15559990001", Name: "reminder", Language: "en_US", Parameters: []string{"a", "b"}}},
		{},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[0].Message)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, apperrors.CodeValidation, results[1].Error.Code)
	assert.Nil(t, results[2].Error)
	require.NotNil(t, results[3].Error)
	assert.Len(t, h.graph.sent, 2)

	_, err = h.messaging.SendBulk(ctx, nil)
	requireCode(t, err, apperrors.CodeValidation)
	_, err = h.messaging.SendBulk(ctx, make([]BulkSendItem, maxBulkItems+1))
	requireCode(t, err, apperrors.CodeValidation)
}
