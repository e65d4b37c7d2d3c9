package service

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"strings"
	"sync"
	texttmpl "text/template"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

//go:embed templates
var templateFS embed.FS

var (
	templates map[model.NotificationKind]*kindTemplates
	tmplErr   error
	tmplInit  sync.Once
)

// kindMeta holds the short per-kind texts and the in-app presentation.
type kindMeta struct {
	subject   string
	title     string
	message   string
	typ       string
	category  string
	actionURL string
}

var kindMetas = map[model.NotificationKind]kindMeta{
	model.NotifyRegistrationCreated: {
		subject:   `Event Registration Confirmation - {{.Data.EventTitle}}`,
		title:     `{{.Data.StudentName}} Registered for {{.Data.EventTitle}}`,
		message:   `{{.Data.RegisteredBy}} has registered {{.Data.StudentName}} for "{{.Data.EventTitle}}" on {{date .Data.EventDate}}.{{if gt .Data.Fee 0}} Payment of ${{.Data.Fee}} is required by {{date .Data.PaymentDueDate}}.{{end}}`,
		typ:       "info",
		category:  "event",
		actionURL: "/parents/dashboard",
	},
	model.NotifyPaymentReminder: {
		subject:   `Payment Reminder - {{.Data.EventTitle}}`,
		title:     `Payment Reminder - {{.Data.EventTitle}}`,
		message:   `Payment of ${{.Data.Amount}} is overdue for {{.Data.StudentName}}'s registration to "{{.Data.EventTitle}}". The event starts in {{.Data.DaysLeft}} day(s).`,
		typ:       "warning",
		category:  "payment",
		actionURL: "/parents/dashboard",
	},
	model.NotifyPaymentConfirmed: {
		subject:   `Payment Confirmed - {{.Data.EventTitle}}`,
		title:     `Payment Confirmed - {{.Data.EventTitle}}`,
		message:   `Payment of ${{.Data.Amount}} has been confirmed for {{.Data.StudentName}}'s registration. Reference: {{.Data.Reference}}`,
		typ:       "success",
		category:  "payment",
		actionURL: "/parents/dashboard",
	},
	model.NotifyAccountApproved: {
		subject:   `Welcome! Your Account Has Been Approved`,
		title:     `Welcome! Account Approved`,
		message:   `Your parent account has been approved. You can now access the school events system and manage your children's registrations.`,
		typ:       "success",
		category:  "system",
		actionURL: "/parents/dashboard",
	},
	model.NotifyEventReminder: {
		subject:   `Event Reminder - {{.Data.EventTitle}}`,
		title:     `Event Reminder - {{.Data.EventTitle}}`,
		message:   `Reminder: {{.Data.StudentName}} is registered for "{{.Data.EventTitle}}" on {{date .Data.EventDate}}{{if .Data.Location}} at {{.Data.Location}}{{end}}.`,
		typ:       "reminder",
		category:  "event",
		actionURL: "/events",
	},
}

var templateFuncs = map[string]any{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Monday, January 2, 2006")
	},
	"join": strings.Join,
}

type kindTemplates struct {
	meta kindMeta
	text *texttmpl.Template // subject, title, message, sms
	html *htmltmpl.Template // layout + content
}

// templateData is what every template executes against.
type templateData struct {
	AppURL string
	Data   model.NotificationData
}

// rendered is one notification rendered for every channel.
type rendered struct {
	Subject string
	HTML    string
	SMS     string
	Title   string
	Message string
	Meta    kindMeta
}

func loadTemplates() {
	templates = make(map[model.NotificationKind]*kindTemplates, len(kindMetas))
	for kind, meta := range kindMetas {
		kt, err := parseKind(kind, meta)
		if err != nil {
			tmplErr = fmt.Errorf("parse %s templates: %w", kind, err)
			return
		}
		templates[kind] = kt
	}
}

func parseKind(kind model.NotificationKind, meta kindMeta) (*kindTemplates, error) {
	t := texttmpl.New(string(kind)).Funcs(templateFuncs)
	for name, src := range map[string]string{"subject": meta.subject, "title": meta.title, "message": meta.message} {
		if _, err := t.New(name).Parse(src); err != nil {
			return nil, err
		}
	}
	sms, err := templateFS.ReadFile("templates/" + string(kind) + ".txt")
	if err != nil {
		return nil, err
	}
	if _, err := t.New("sms").Parse(strings.TrimSpace(string(sms))); err != nil {
		return nil, err
	}

	h, err := htmltmpl.New(string(kind)).Funcs(templateFuncs).
		ParseFS(templateFS, "templates/layout.gohtml", "templates/"+string(kind)+".gohtml")
	if err != nil {
		return nil, err
	}
	return &kindTemplates{meta: meta, text: t, html: h}, nil
}

// render executes every template of n.Kind.
func render(n model.Notification, appURL string) (rendered, error) {
	tmplInit.Do(loadTemplates)
	if tmplErr != nil {
		return rendered{}, tmplErr
	}
	kt, ok := templates[n.Kind]
	if !ok {
		return rendered{}, fmt.Errorf("no templates for notification kind %q", n.Kind)
	}

	data := templateData{AppURL: appURL, Data: n.Data}
	out := rendered{Meta: kt.meta}
	for name, dst := range map[string]*string{
		"subject": &out.Subject,
		"title":   &out.Title,
		"message": &out.Message,
		"sms":     &out.SMS,
	} {
		var buf bytes.Buffer
		if err := kt.text.ExecuteTemplate(&buf, name, data); err != nil {
			return rendered{}, fmt.Errorf("render %s %s: %w", n.Kind, name, err)
		}
		*dst = buf.String()
	}

	var buf bytes.Buffer
	if err := kt.html.ExecuteTemplate(&buf, "layout", data); err != nil {
		return rendered{}, fmt.Errorf("render %s email: %w", n.Kind, err)
	}
	out.HTML = buf.String()
	return out, nil
}
