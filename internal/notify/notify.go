// Package notify sends fire-and-forget email notifications about
// orders. Failures are for the caller to log; they are never fatal to
// the ordering path.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/rs/zerolog"
)

// Recipient resolves the delivery address for an order's owner. The
// ordering core only knows user and project ids, so address lookup is
// injected.
type Recipient func(ctx context.Context, order domain.Order) (string, error)

var templates = map[string]*template.Template{
	"order_created": template.Must(template.New("order_created").Parse(
		"Subject: Your order has been placed\r\n" +
			"\r\n" +
			"Order {{.ID}} for offer {{.OfferID}} was added to your project.\r\n" +
			"You will be notified when fulfillment starts.\r\n")),
	"order_registered": template.Must(template.New("order_registered").Parse(
		"Subject: Your order is being processed\r\n" +
			"\r\n" +
			"Order {{.ID}} has been registered with the fulfillment team.\r\n")),
	"order_ready": template.Must(template.New("order_ready").Parse(
		"Subject: Your order is ready\r\n" +
			"\r\n" +
			"Order {{.ID}} is ready to use.\r\n")),
}

// SMTPNotifier renders a template and hands it to an SMTP relay.
type SMTPNotifier struct {
	Addr      string
	From      string
	Recipient Recipient
}

func (n *SMTPNotifier) Notify(ctx context.Context, order domain.Order, name string) error {
	tmpl, ok := templates[name]
	if !ok {
		return fmt.Errorf("unknown notification template %q", name)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, order); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	to, err := n.Recipient(ctx, order)
	if err != nil {
		return fmt.Errorf("resolve recipient for order %s: %w", order.ID, err)
	}
	if to == "" {
		return fmt.Errorf("no recipient for order %s", order.ID)
	}

	if err := smtp.SendMail(n.Addr, nil, n.From, []string{to}, body.Bytes()); err != nil {
		return fmt.Errorf("send %s to %s: %w", name, to, err)
	}
	return nil
}

// LogNotifier logs instead of sending. Used in development and tests.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, order domain.Order, name string) error {
	n.Logger.Info().
		Str("order_id", order.ID).
		Str("user_id", order.UserID).
		Str("template", name).
		Msg("notification")
	return nil
}
