package whatsapp

import (
	"encoding/json"
	"strconv"

	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
)

const messagingProduct = "whatsapp"

// OutboundMessage is the body of POST /{phone-number-id}/messages.
type OutboundMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Context          *ContextObject  `json:"context,omitempty"`
	Text             *TextObject     `json:"text,omitempty"`
	Image            *MediaObject    `json:"image,omitempty"`
	Video            *MediaObject    `json:"video,omitempty"`
	Audio            *MediaObject    `json:"audio,omitempty"`
	Document         *MediaObject    `json:"document,omitempty"`
	Location         *LocationObject `json:"location,omitempty"`
	Template         *TemplateObject `json:"template,omitempty"`
	Interactive      json.RawMessage `json:"interactive,omitempty"`
}

// ContextObject marks a reply.
type ContextObject struct {
	MessageID string `json:"message_id"`
}

// TextObject is a text body.
type TextObject struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// MediaObject references uploaded media by provider id.
type MediaObject struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// LocationObject is a location pin.
type LocationObject struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// TemplateObject selects a template and fills its parameters.
type TemplateObject struct {
	Name       string                   `json:"name"`
	Language   LanguageObject           `json:"language"`
	Components []TemplateParamComponent `json:"components,omitempty"`
}

// LanguageObject names a template language.
type LanguageObject struct {
	Code string `json:"code"`
}

// TemplateParamComponent fills one template component.
type TemplateParamComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters"`
}

// TemplateParameter is one placeholder value.
type TemplateParameter struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Image    *MediaObject `json:"image,omitempty"`
	Document *MediaObject `json:"document,omitempty"`
	Video    *MediaObject `json:"video,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type idResponse struct {
	ID string `json:"id"`
}

// MediaInfo is the provider's description of an uploaded media object.
type MediaInfo struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	MimeType string    `json:"mime_type"`
	SHA256   string    `json:"sha256"`
	FileSize flexInt64 `json:"file_size"`
}

// flexInt64 accepts both JSON numbers and numeric strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// RemoteTemplate is a template as listed by the provider.
type RemoteTemplate struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	Language       string                     `json:"language"`
	Category       string                     `json:"category"`
	Status         string                     `json:"status"`
	RejectedReason string                     `json:"rejected_reason,omitempty"`
	Components     []domain.TemplateComponent `json:"components"`
}

type templatePage struct {
	Data   []RemoteTemplate `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// TemplateRequest is the body of POST /{waba-id}/message_templates.
type TemplateRequest struct {
	Name       string                     `json:"name"`
	Language   string                     `json:"language"`
	Category   string                     `json:"category"`
	Components []domain.TemplateComponent `json:"components"`
}

// TemplateCreated is the provider's answer to a template creation.
type TemplateCreated struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Category string `json:"category"`
}
