package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/cache"
	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	"github.com/solvejet/pixe-whatspp-sub001/internal/contentstore"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	"github.com/solvejet/pixe-whatspp-sub001/internal/whatsapp"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

const (
	testBusinessPhone = "PN1"
	testAppSecret     = "app-secret"
	testCustomer      = "15550001111"
)

// fakeGraph stands in for the Cloud API.
type fakeGraph struct {
	mu           sync.Mutex
	seq          int
	sent         []whatsapp.OutboundMessage
	sendErr      error
	readReceipts []string
	uploads      int
	uploadErr    error
	onUpload     func()
	media        map[string][]byte
	mediaMime    map[string]string
	badChecksum  bool
	deleted      []string
	templates    []whatsapp.RemoteTemplate
	created      []whatsapp.TemplateRequest
	edited       []string
	removed      []string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{media: map[string][]byte{}, mediaMime: map[string]string{}}
}

func (g *fakeGraph) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s.%d", prefix, g.seq)
}

func (g *fakeGraph) SendMessage(_ context.Context, msg whatsapp.OutboundMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.sent = append(g.sent, msg)
	return g.nextID("wamid.out"), nil
}

func (g *fakeGraph) MarkRead(_ context.Context, providerMessageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readReceipts = append(g.readReceipts, providerMessageID)
	return nil
}

func (g *fakeGraph) UploadMedia(_ context.Context, data []byte, mimeType, _ string) (string, error) {
	if g.onUpload != nil {
		g.onUpload()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads++
	if g.uploadErr != nil {
		return "", g.uploadErr
	}
	id := g.nextID("media")
	g.media[id] = append([]byte(nil), data...)
	g.mediaMime[id] = mimeType
	return id, nil
}

// addRemoteMedia simulates an attachment a customer sent.
func (g *fakeGraph) addRemoteMedia(id, mimeType string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.media[id] = data
	g.mediaMime[id] = mimeType
}

func (g *fakeGraph) GetMedia(_ context.Context, providerMediaID string) (*whatsapp.MediaInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.media[providerMediaID]
	if !ok {
		return nil, apperrors.NewUpstreamError("get media", http.StatusNotFound, []byte(`{"error":{"code":100}}`))
	}
	sum := sha256.Sum256(data)
	if g.badChecksum {
		sum = sha256.Sum256(append(data, '!'))
	}
	return &whatsapp.MediaInfo{
		ID:       providerMediaID,
		URL:      "https://lookaside.test/" + providerMediaID,
		MimeType: g.mediaMime[providerMediaID],
		SHA256:   hex.EncodeToString(sum[:]),
	}, nil
}

func (g *fakeGraph) DownloadMedia(_ context.Context, mediaURL string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.media[strings.TrimPrefix(mediaURL, "https://lookaside.test/")]
	if !ok {
		return nil, apperrors.NewUpstreamError("download media", http.StatusNotFound, nil)
	}
	return data, nil
}

func (g *fakeGraph) DeleteMedia(_ context.Context, providerMediaID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.media[providerMediaID]; !ok {
		return apperrors.NewUpstreamError("delete media", http.StatusNotFound, nil)
	}
	delete(g.media, providerMediaID)
	g.deleted = append(g.deleted, providerMediaID)
	return nil
}

func (g *fakeGraph) ListTemplates(context.Context) ([]whatsapp.RemoteTemplate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]whatsapp.RemoteTemplate(nil), g.templates...), nil
}

func (g *fakeGraph) CreateTemplate(_ context.Context, req whatsapp.TemplateRequest) (*whatsapp.TemplateCreated, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	return &whatsapp.TemplateCreated{ID: g.nextID("tpl"), Status: "PENDING", Category: req.Category}, nil
}

func (g *fakeGraph) EditTemplate(_ context.Context, providerTemplateID string, _ any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edited = append(g.edited, providerTemplateID)
	return nil
}

func (g *fakeGraph) DeleteTemplate(_ context.Context, name, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, name)
	return nil
}

// inlineSubmitter runs tasks on the caller's goroutine.
type inlineSubmitter struct {
	err   error
	calls int
}

func (s *inlineSubmitter) Submit(ctx context.Context, _ string, task func(context.Context) error) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	_ = task(ctx)
	return nil
}

// eventLog records published event types.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) count(t events.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	now           time.Time
	store         repository.Store
	graph         *fakeGraph
	broker        *broker.MemoryBroker
	cache         *cache.MemoryStore
	content       *contentstore.FSStore
	events        *eventLog
	pool          *inlineSubmitter
	conversations *ConversationService
	media         *MediaService
	templates     *TemplateService
	messaging     *MessagingService
	webhooks      *WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		now:     time.Now().UTC().Truncate(time.Second),
		store:   repository.NewMemoryStore(),
		graph:   newFakeGraph(),
		broker:  broker.NewMemoryBroker(10 * time.Millisecond),
		cache:   cache.NewMemoryStore(),
		content: contentstore.NewStoreOnFs(afero.NewMemMapFs()),
		events:  &eventLog{},
		pool:    &inlineSubmitter{},
	}
	clock := Clock(func() time.Time { return h.now })
	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, h.events.handle)
	}
	logger := zap.NewNop()

	h.conversations = NewConversationService(ConversationDependencies{
		ConversationRepo: h.store.Conversations,
		MessageRepo:      h.store.Messages,
		Sender:           h.graph,
		Dispatcher:       dispatcher,
		Logger:           logger,
		Clock:            clock,
	})
	h.media = NewMediaService(MediaDependencies{
		MediaRepo:  h.store.Media,
		Content:    h.content,
		Provider:   h.graph,
		Broker:     h.broker,
		Dispatcher: dispatcher,
		Logger:     logger,
		Config: config.MediaConfig{
			BulkConcurrency:  2,
			CleanupBatchSize: 2,
			MaxImageBytes:    1024,
			MaxDocumentBytes: 4096,
			DefaultRetention: 30,
		},
		Clock: clock,
	})
	h.templates = NewTemplateService(TemplateDependencies{
		TemplateRepo: h.store.Templates,
		Provider:     h.graph,
		Cache:        h.cache,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Clock:        clock,
	})
	h.messaging = NewMessagingService(MessagingDependencies{
		Conversations:   h.conversations,
		Templates:       h.templates,
		MediaRepo:       h.store.Media,
		Sender:          h.graph,
		Logger:          logger,
		BusinessPhoneID: testBusinessPhone,
		BulkConcurrency: 2,
		Clock:           clock,
	})
	h.webhooks = NewWebhookService(WebhookDependencies{
		AppSecret:     testAppSecret,
		VerifyToken:   "verify-me",
		Pool:          h.pool,
		Conversations: h.conversations,
		Media:         h.media,
		Templates:     h.templates,
		Logger:        logger,
		Clock:         clock,
	})
	return h
}

// nextEnvelope takes the single ready message off queue.
func (h *harness) nextEnvelope(t *testing.T, queue string) domain.QueueMessage {
	t.Helper()
	require.Equal(t, 1, h.broker.Pending(queue))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var msg domain.QueueMessage
	err := h.broker.Consume(ctx, queue, func(_ context.Context, d broker.Delivery) error {
		cancel()
		return json.Unmarshal(d.Body, &msg)
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	return msg
}

// ingestText stores an inbound text so the customer's window is open.
func (h *harness) ingestText(t *testing.T, providerID string, at time.Time) *domain.Message {
	t.Helper()
	msg, err := h.conversations.IngestInbound(context.Background(), InboundMessage{
		ProviderMessageID: providerID,
		From:              testCustomer,
		BusinessPhoneID:   testBusinessPhone,
		Type:              domain.MessageTypeText,
		Timestamp:         at,
		Content:           domain.MessageContent{Text: "hi"},
	})
	require.NoError(t, err)
	return msg
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

func pngWith(marker byte) []byte {
	out := append([]byte(nil), pngBytes...)
	out[len(out)-1] = marker
	return out
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, code), "want %s, got %v", code, err)
}
