package services

import (
	"strings"

	"github.com/feedrelay/feedrelay/internal/models"
)

// defaultTemplate is used when an automation carries no template text.
const defaultTemplate = "*{{title}}*\n\n{{summary}}\n\n{{url}}"

// RenderMessage fills an automation's template with a content item's
// fields. Supported placeholders: {{title}}, {{summary}}, {{url}}.
func RenderMessage(template string, item *models.ContentItem) string {
	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}

	r := strings.NewReplacer(
		"{{title}}", item.Title,
		"{{summary}}", item.Summary,
		"{{url}}", item.RawURL,
	)
	out := strings.TrimSpace(r.Replace(template))
	return out
}

// TemplateRendersNonEmpty is the diagnostics probe: it renders the
// template against a sample item and checks the result is not blank.
func TemplateRendersNonEmpty(template string, item *models.ContentItem) bool {
	if item == nil {
		item = &models.ContentItem{Title: "sample", RawURL: "https://example.com/sample"}
	}
	return RenderMessage(template, item) != ""
}
