package service

import (
	"strings"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

func TestRender_EveryKind(t *testing.T) {
	data := model.NotificationData{
		GuardianName:   "Ada Lovelace",
		StudentName:    "Byron Lovelace",
		EventTitle:     "Science Fair",
		EventDate:      time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
		Location:       "Main Hall",
		Fee:            1500,
		Amount:         1500,
		PaymentDueDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		DaysLeft:       2,
		RegisteredBy:   "Alan Turing",
		Reference:      "pi_123",
		ChildrenNames:  []string{"Byron"},
	}

	for kind := range kindMetas {
		t.Run(string(kind), func(t *testing.T) {
			out, err := render(model.Notification{ID: "n-1", Kind: kind, Data: data}, "https://school.example")
			if err != nil {
				t.Fatalf("render() error = %v", err)
			}
			for name, s := range map[string]string{"subject": out.Subject, "title": out.Title, "message": out.Message, "sms": out.SMS, "html": out.HTML} {
				if strings.TrimSpace(s) == "" {
					t.Errorf("%s is empty", name)
				}
				if strings.Contains(s, "<no value>") {
					t.Errorf("%s has a missing field: %q", name, s)
				}
			}
			if !strings.Contains(out.HTML, "Dear Ada Lovelace") {
				t.Errorf("html does not greet the guardian: %q", out.HTML)
			}
			if !strings.Contains(out.HTML, "https://school.example/parents/dashboard") {
				t.Errorf("html has no dashboard link")
			}
		})
	}
}

func TestRender_Details(t *testing.T) {
	out, err := render(model.Notification{Kind: model.NotifyRegistrationCreated, Data: model.NotificationData{
		GuardianName: "Ada",
		StudentName:  `<script>alert(1)</script>`,
		EventTitle:   "Science Fair",
		EventDate:    time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
		Fee:          1250,
	}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.HTML, "<script>") {
		t.Errorf("html does not escape data: %q", out.HTML)
	}
	if !strings.Contains(out.SMS, "$12.50") {
		t.Errorf("sms = %q, want the formatted fee", out.SMS)
	}
	if !strings.Contains(out.Message, "Wednesday, March 4, 2026") {
		t.Errorf("message = %q, want the long event date", out.Message)
	}

	free, err := render(model.Notification{Kind: model.NotifyRegistrationCreated, Data: model.NotificationData{StudentName: "Byron"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(free.Message, "Payment of") {
		t.Errorf("free event message asks for payment: %q", free.Message)
	}
}

func TestRender_UnknownKind(t *testing.T) {
	if _, err := render(model.Notification{Kind: "fax_sent"}, ""); err == nil {
		t.Error("render() error = nil, want an error")
	}
}
