package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ObjectWhatsAppBusiness is the only object type this service accepts.
const ObjectWhatsAppBusiness = "whatsapp_business_account"

// Change fields we act on.
const (
	FieldMessages             = "messages"
	FieldTemplateStatusUpdate = "message_template_status_update"
)

// Payload is the top-level webhook body.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update. Value is decoded lazily by field.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// MessagesValue is the value of a "messages" change.
type MessagesValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the customer profile attached to inbound messages.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound customer message.
type Message struct {
	From        string            `json:"from"`
	ID          string            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Type        string            `json:"type"`
	Context     *Context          `json:"context,omitempty"`
	Text        *Text             `json:"text,omitempty"`
	Image       *Media            `json:"image,omitempty"`
	Video       *Media            `json:"video,omitempty"`
	Audio       *Media            `json:"audio,omitempty"`
	Document    *Media            `json:"document,omitempty"`
	Sticker     *Media            `json:"sticker,omitempty"`
	Location    *Location         `json:"location,omitempty"`
	Interactive *Interactive      `json:"interactive,omitempty"`
	Button      *Button           `json:"button,omitempty"`
	Reaction    *Reaction         `json:"reaction,omitempty"`
	Contacts    []json.RawMessage `json:"contacts,omitempty"`
}

// Context references the message being replied to.
type Context struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Text is a text body.
type Text struct {
	Body string `json:"body"`
}

// Media is a media attachment reference.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Location is a shared location.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Interactive is a reply to buttons or a list.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	} `json:"list_reply,omitempty"`
	NfmReply *struct {
		ResponseJSON string `json:"response_json"`
		Body         string `json:"body"`
		Name         string `json:"name"`
	} `json:"nfm_reply,omitempty"`
}

// Button is a quick reply button press on a template.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// Reaction is an emoji reaction to a message.
type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// Status is a delivery status report for an outbound message.
type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

// StatusError explains a failed delivery.
type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData *struct {
		Details string `json:"details"`
	} `json:"error_data,omitempty"`
}

// TemplateStatusValue is the value of a template review change.
type TemplateStatusValue struct {
	Event                   string `json:"event"`
	MessageTemplateID       int64  `json:"message_template_id"`
	MessageTemplateName     string `json:"message_template_name"`
	MessageTemplateLanguage string `json:"message_template_language"`
	Reason                  string `json:"reason,omitempty"`
}

// Decode parses a raw body and checks the object type.
func Decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if p.Object != ObjectWhatsAppBusiness {
		return nil, fmt.Errorf("unsupported webhook object %q", p.Object)
	}
	return &p, nil
}

// Messages decodes the change value as a messages value.
func (c Change) Messages() (*MessagesValue, error) {
	var v MessagesValue
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return nil, fmt.Errorf("decode messages value: %w", err)
	}
	return &v, nil
}

// TemplateStatus decodes the change value as a template review update.
func (c Change) TemplateStatus() (*TemplateStatusValue, error) {
	var v TemplateStatusValue
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return nil, fmt.Errorf("decode template status value: %w", err)
	}
	return &v, nil
}

// MediaRef returns the attachment of a media-bearing message.
func (m Message) MediaRef() *Media {
	switch {
	case m.Image != nil:
		return m.Image
	case m.Video != nil:
		return m.Video
	case m.Audio != nil:
		return m.Audio
	case m.Document != nil:
		return m.Document
	case m.Sticker != nil:
		return m.Sticker
	}
	return nil
}

// ParseTimestamp converts the provider's unix-seconds string; zero or invalid
// values fall back to fallback.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}
