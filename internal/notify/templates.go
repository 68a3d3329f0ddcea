package notify

import (
	"fmt"
	"os"

	"tolka/internal/models"

	"gopkg.in/yaml.v2"
)

// Template holds the subject line and body key for one notification kind.
// Rendered bodies live with the mail system; this service only picks the
// template and supplies the context values.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Session-end mails to customer and translator intentionally share one
// subject line.
var defaultTemplates = map[string]Template{
	models.TemplateBookingReopened:        {Subject: "Booking reopened", Body: "emails.booking-reopened"},
	models.TemplateTranslatorAccepted:     {Subject: "A translator has accepted your booking", Body: "emails.translator-accepted"},
	models.TemplateTranslatorReassignNew:  {Subject: "You have been assigned a booking", Body: "emails.translator-reassigned-new"},
	models.TemplateTranslatorReassignOld:  {Subject: "You are no longer assigned to the booking", Body: "emails.translator-reassigned-old"},
	models.TemplateBookingCancelled:       {Subject: "Booking cancelled", Body: "emails.booking-cancelled"},
	models.TemplateSessionEndedCustomer:   {Subject: "Session completed", Body: "emails.session-ended-customer"},
	models.TemplateSessionEndedTranslator: {Subject: "Session completed", Body: "emails.session-ended-translator"},
	models.TemplateDueDateChanged:         {Subject: "Booking time changed", Body: "emails.due-date-changed"},
	models.TemplateLanguageChanged:        {Subject: "Booking language changed", Body: "emails.language-changed"},
	models.TemplateSessionStartReminder:   {Subject: "Your session starts soon", Body: "emails.session-start-reminder"},
}

type TemplateRegistry struct {
	templates map[string]Template
}

// NewTemplateRegistry returns the built-in templates, overridden by the
// optional YAML file when present.
func NewTemplateRegistry(overridesPath string) (*TemplateRegistry, error) {
	templates := make(map[string]Template, len(defaultTemplates))
	for key, t := range defaultTemplates {
		templates[key] = t
	}

	if overridesPath != "" {
		data, err := os.ReadFile(overridesPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read templates file: %w", err)
			}
		} else {
			var overrides struct {
				Templates map[string]Template `yaml:"templates"`
			}
			if err := yaml.Unmarshal(data, &overrides); err != nil {
				return nil, fmt.Errorf("failed to parse templates file: %w", err)
			}
			for key, t := range overrides.Templates {
				templates[key] = t
			}
		}
	}

	return &TemplateRegistry{templates: templates}, nil
}

func (r *TemplateRegistry) Lookup(key string) (Template, error) {
	t, ok := r.templates[key]
	if !ok {
		return Template{}, fmt.Errorf("unknown notification template: %s", key)
	}
	return t, nil
}
