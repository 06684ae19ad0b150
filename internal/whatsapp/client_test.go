package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	apperrors "github.com/solvejet/pixe-whatspp-sub001/pkg/util/errorutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.WhatsAppConfig{
		BaseURL:           srv.URL,
		APIVersion:        "v19.0",
		AccessToken:       "token",
		PhoneNumberID:     "PN1",
		BusinessAccountID: "WABA1",
		TimeoutSeconds:    5,
		RateLimitQPS:      1000,
		RateLimitBurst:    100,
	}, 1024, zap.NewNop(), nil)
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/PN1/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var msg OutboundMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "whatsapp", msg.MessagingProduct)
		assert.Equal(t, "15550001111", msg.To)
		assert.Equal(t, "hi", msg.Text.Body)

		_, _ = io.WriteString(w, `{"messages":[{"id":"wamid.OUT"}]}`)
	})

	id, err := c.SendMessage(context.Background(), OutboundMessage{To: "15550001111", Type: "text", Text: &TextObject{Body: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT", id)
}

func TestSendMessageUpstreamRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad recipient"}}`)
	})

	_, err := c.SendMessage(context.Background(), OutboundMessage{To: "x", Type: "text", Text: &TextObject{Body: "hi"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUpstream))
	status, ok := apperrors.UpstreamStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, apperrors.ToDomainError(err).Details["upstream_body"], "bad recipient")
}

func TestGetMediaRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"id":"M1","url":"https://cdn/x","mime_type":"image/png","sha256":"abc","file_size":"42"}`)
	})

	info, err := c.GetMedia(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "image/png", info.MimeType)
	assert.EqualValues(t, 42, info.FileSize)
}

func TestGetMediaDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetMedia(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDownloadMediaLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 2048))
	})

	_, err := c.DownloadMedia(context.Background(), c.baseURL+"/blob")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestUploadMediaMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/PN1/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whatsapp", r.FormValue("messaging_product"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "png-bytes", string(body))
		assert.Equal(t, "a.png", header.Filename)
		_, _ = io.WriteString(w, `{"id":"MEDIA9"}`)
	})

	id, err := c.UploadMedia(context.Background(), []byte("png-bytes"), "image/png", "a.png")
	require.NoError(t, err)
	assert.Equal(t, "MEDIA9", id)
}

func TestListTemplatesFollowsPaging(t *testing.T) {
	var srvURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data":   []map[string]any{{"id": "1", "name": "welcome", "language": "en_US", "status": "APPROVED", "category": "UTILITY"}},
				"paging": map[string]any{"next": srvURL + "/v19.0/WABA1/message_templates?after=c1"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "2", "name": "promo", "language": "en_US", "status": "REJECTED", "category": "MARKETING", "rejected_reason": "ABUSIVE_CONTENT"}},
		})
	})
	srvURL = c.baseURL

	templates, err := c.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "welcome", templates[0].Name)
	assert.Equal(t, "ABUSIVE_CONTENT", templates[1].RejectedReason)
}

func TestDeleteTemplateQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "welcome", r.URL.Query().Get("name"))
		assert.Equal(t, "77", r.URL.Query().Get("hsm_id"))
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	require.NoError(t, c.DeleteTemplate(context.Background(), "welcome", "77"))
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	c.baseURL = "http://127.0.0.1:1"
	c.retries = 0

	err := c.DeleteMedia(context.Background(), "M1")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.ToDomainError(err).HTTPStatus)
}
