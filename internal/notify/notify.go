// Package notify builds the notification messages the scheduling engine
// emits. Delivery is someone else's problem; this package only renders
// message bodies from named templates.
package notify

import (
	"fmt"
	"strings"
)

// TemplateEngine renders message templates. Bodies use {{name}} placeholders
// substituted from the data map; unknown placeholders are left in place so a
// bad call site is visible in the output rather than silently blank.
type TemplateEngine struct {
	templates map[string]string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]string)}
	for name, body := range builtinTemplates {
		e.templates[name] = body
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(name, body string) {
	e.templates[name] = body
}

func (e *TemplateEngine) Render(name string, data map[string]string) (string, error) {
	body, ok := e.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown notification template %q", name)
	}
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

var builtinTemplates = map[string]string{
	"appointment-booked-patient":      "Your appointment with Dr. {{doctor}} on {{date}} at {{time}} is confirmed.",
	"appointment-booked-doctor":       "New appointment with {{patient}} on {{date}} at {{time}}.",
	"appointment-cancelled-patient":   "Your appointment with Dr. {{doctor}} on {{date}} at {{time}} has been cancelled.",
	"appointment-cancelled-doctor":    "Your appointment with {{patient}} on {{date}} at {{time}} has been cancelled.",
	"appointment-rescheduled-patient": "Your appointment with Dr. {{doctor}} has been moved to {{date}} at {{time}}.",
	"appointment-rescheduled-doctor":  "Your appointment with {{patient}} has been moved to {{date}} at {{time}}.",
	"appointment-reminder":            "Reminder: your appointment with Dr. {{doctor}} is on {{date}} at {{time}}.",
	"request-declined":                "Your appointment request could not be scheduled: {{note}}",
}

var defaultEngine = NewTemplateEngine()

// Render renders a built-in template with the default engine.
func Render(name string, data map[string]string) (string, error) {
	return defaultEngine.Render(name, data)
}
