// Package notify sends the purchase confirmation email. Delivery is a side
// channel: every failure is logged and counted, never returned.
package notify

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"time"

	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Confirmation is everything the email needs
type Confirmation struct {
	RecipientEmail string
	CustomerName   string
	TicketNumber   string
	TicketURL      string
	TotalCents     int64
}

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// EmailSender delivers a rendered message and returns the provider's message id
type EmailSender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`
<div style="font-family:system-ui,-apple-system,Segoe UI,Roboto,Arial; line-height:1.4; color:#111">
  <h2>Gracias por tu compra{{if .Name}}, {{.Name}}{{end}}</h2>
  <p>Tu ticket <b>{{.TicketNumber}}</b> está listo.</p>
  <p>Total: <b>{{.Total}} €</b> (IVA incluido)</p>
  <p>
    <a href="{{.TicketURL}}" style="display:inline-block;padding:10px 14px;border:1px solid #ddd;border-radius:10px;text-decoration:none">
      Ver / imprimir ticket
    </a>
  </p>
  <p style="color:#555;font-size:12px">
    Si necesitas factura con NIF, responde a este correo solicitándola.
  </p>
</div>`))

// Render builds the confirmation message for c
func Render(c Confirmation) (Message, error) {
	var buf bytes.Buffer
	err := confirmationTemplate.Execute(&buf, struct {
		Name         string
		TicketNumber string
		TicketURL    string
		Total        string
	}{
		Name:         strings.TrimSpace(c.CustomerName),
		TicketNumber: c.TicketNumber,
		TicketURL:    c.TicketURL,
		Total:        decimal.New(c.TotalCents, -2).StringFixed(2),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      c.RecipientEmail,
		Subject: "Tu ticket " + c.TicketNumber,
		HTML:    buf.String(),
	}, nil
}

// Dispatcher renders and sends confirmations
type Dispatcher struct {
	sender  EmailSender
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil sender disables delivery.
func NewDispatcher(sender EmailSender, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  util.GetLogger(),
	}
}

// Dispatch sends the confirmation once. It never fails and never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, c Confirmation) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Dispatch")
	defer span.End()

	logger := d.logger.With(zap.String("ticket_number", c.TicketNumber))

	if strings.TrimSpace(c.RecipientEmail) == "" {
		util.NotificationsDroppedTotal.WithLabelValues("no_recipient").Inc()
		logger.Warn("No recipient email, skipping confirmation")
		return
	}
	if d.sender == nil {
		util.NotificationsDroppedTotal.WithLabelValues("disabled").Inc()
		logger.Warn("Email delivery is not configured, skipping confirmation")
		return
	}

	msg, err := Render(c)
	if err != nil {
		util.NotificationsDroppedTotal.WithLabelValues("render_error").Inc()
		logger.Error("Failed to render confirmation", zap.Error(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := d.sender.Send(sendCtx, msg)
	if err != nil {
		util.NotificationsDroppedTotal.WithLabelValues("delivery_error").Inc()
		util.RecordError(span, err)
		logger.Error("Failed to send confirmation", zap.Error(err))
		return
	}

	util.NotificationsSentTotal.Inc()
	logger.Info("Confirmation sent", zap.String("message_id", id))
}
