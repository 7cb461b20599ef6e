// Package notify renders order emails and hands them to a Mailer.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/orders"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").
	Funcs(template.FuncMap{"money": orders.FormatCents}).
	ParseFS(templateFS, "templates/*.html"))

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// EmailNotifier implements orders.Notifier.
type EmailNotifier struct {
	Mailer    Mailer
	StoreName string
	Log       *zap.Logger
}

type view struct {
	Name   string
	Store  string
	Order  *orders.Order
	Status orders.Status
}

func (n *EmailNotifier) SendOrderConfirmation(ctx context.Context, o *orders.Order, to orders.Recipient) orders.Delivery {
	subject := fmt.Sprintf("%s order %s confirmed", n.StoreName, o.ID)
	return n.send(ctx, "confirmation.html", subject, to, view{Name: to.Name, Store: n.StoreName, Order: o})
}

func (n *EmailNotifier) SendOrderStatusUpdate(ctx context.Context, o *orders.Order, to orders.Recipient, s orders.Status) orders.Delivery {
	subject := fmt.Sprintf("%s order %s is %s", n.StoreName, o.ID, s)
	return n.send(ctx, "status.html", subject, to, view{Name: to.Name, Store: n.StoreName, Order: o, Status: s})
}

func (n *EmailNotifier) send(ctx context.Context, tmpl, subject string, to orders.Recipient, v view) orders.Delivery {
	if strings.TrimSpace(to.Email) == "" {
		return orders.Delivery{Errors: []string{"recipient email is empty"}}
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, tmpl, v); err != nil {
		n.logger().Error("render email", zap.String("template", tmpl), zap.Error(err))
		return orders.Delivery{Errors: []string{fmt.Sprintf("render %s: %v", tmpl, err)}}
	}
	if err := n.Mailer.Send(ctx, Message{To: to.Email, Subject: subject, HTML: buf.String()}); err != nil {
		n.logger().Warn("send email", zap.String("to", to.Email), zap.String("template", tmpl), zap.Error(err))
		return orders.Delivery{Errors: []string{err.Error()}}
	}
	return orders.Delivery{Sent: true}
}

func (n *EmailNotifier) logger() *zap.Logger {
	if n.Log == nil {
		return zap.NewNop()
	}
	return n.Log
}
