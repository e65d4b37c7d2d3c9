package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sony/gobreaker"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGrid delivers HTML email through the SendGrid v3 API.
type SendGrid struct {
	key  string
	from *sgmail.Email
	cb   *gobreaker.CircuitBreaker
	// api is swapped in tests.
	api func(rest.Request) (*rest.Response, error)
}

func NewSendGrid(key, fromName, fromAddress string, cb *gobreaker.CircuitBreaker) *SendGrid {
	return &SendGrid{
		key:  key,
		from: sgmail.NewEmail(fromName, fromAddress),
		cb:   cb,
		api:  sendgrid.API,
	}
}

func (s *SendGrid) Send(ctx context.Context, to, subject, htmlBody string) Result {
	if err := ctx.Err(); err != nil {
		return failure(err.Error())
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail("", to))
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", htmlBody))

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	out, err := s.cb.Execute(func() (interface{}, error) {
		res, err := s.api(req)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
		}
		return res, nil
	})
	if err != nil {
		return failure(err.Error())
	}

	res := out.(*rest.Response)
	var id string
	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		id = ids[0]
	}
	return Result{Success: true, MessageID: id}
}

// UnconfiguredEmail is used when no email provider is configured. Every send
// fails with a structured result.
type UnconfiguredEmail struct{}

func (UnconfiguredEmail) Send(ctx context.Context, to, subject, htmlBody string) Result {
	return failure("email transport is not configured")
}
