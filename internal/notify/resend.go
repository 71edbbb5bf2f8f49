package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/resend/resend-go/v2"
)

// ResendSender delivers messages through Resend
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string, timeout time.Duration) *ResendSender {
	httpClient := &http.Client{Timeout: timeout}
	return &ResendSender{
		client: resend.NewCustomClient(httpClient, apiKey),
		from:   from,
	}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}
