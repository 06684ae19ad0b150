package domain

import (
	"regexp"
	"strings"
	"time"
)

// TemplateCategory is the provider category of a template.
type TemplateCategory string

const (
	TemplateCategoryMarketing      TemplateCategory = "MARKETING"
	TemplateCategoryUtility        TemplateCategory = "UTILITY"
	TemplateCategoryAuthentication TemplateCategory = "AUTHENTICATION"
)

// TemplateStatus is the review status of a template.
type TemplateStatus string

const (
	TemplateStatusPending  TemplateStatus = "pending"
	TemplateStatusApproved TemplateStatus = "approved"
	TemplateStatusRejected TemplateStatus = "rejected"
)

// ParseTemplateStatus folds provider review states into the local set.
func ParseTemplateStatus(raw string) TemplateStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVED":
		return TemplateStatusApproved
	case "REJECTED", "PAUSED", "DISABLED", "FLAGGED":
		return TemplateStatusRejected
	default:
		return TemplateStatusPending
	}
}

// ParseTemplateCategory validates a template category.
func ParseTemplateCategory(raw string) (TemplateCategory, bool) {
	switch c := TemplateCategory(strings.ToUpper(raw)); c {
	case TemplateCategoryMarketing, TemplateCategoryUtility, TemplateCategoryAuthentication:
		return c, true
	}
	return "", false
}

// TemplateButton is a quick reply, URL or phone button.
type TemplateButton struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	URL         string `json:"url,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// TemplateComponent is a header, body, footer or buttons block.
type TemplateComponent struct {
	Type    string           `json:"type"`
	Format  string           `json:"format,omitempty"`
	Text    string           `json:"text,omitempty"`
	Buttons []TemplateButton `json:"buttons,omitempty"`
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// Placeholders returns the number of distinct {{n}} variables in the component text.
func (c TemplateComponent) Placeholders() int {
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(c.Text, -1) {
		seen[m[1]] = struct{}{}
	}
	return len(seen)
}

// Template is a provider-hosted message template mirrored locally.
type Template struct {
	ID                 string
	ProviderTemplateID string
	Name               string
	Language           string
	Category           TemplateCategory
	Components         []TemplateComponent
	Status             TemplateStatus
	RejectedReason     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SyncedAt           *time.Time
}

// Component returns the first component of the given type.
func (t *Template) Component(kind string) (TemplateComponent, bool) {
	for _, c := range t.Components {
		if strings.EqualFold(c.Type, kind) {
			return c, true
		}
	}
	return TemplateComponent{}, false
}

// BodyPlaceholders returns how many parameters the body expects.
func (t *Template) BodyPlaceholders() int {
	body, ok := t.Component("BODY")
	if !ok {
		return 0
	}
	return body.Placeholders()
}
