package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/orders"
)

type fakeMailer struct {
	err  error
	sent []Message
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func sampleOrder() *orders.Order {
	return &orders.Order{
		ID:     "o-1",
		UserID: "u-ana",
		Items: []orders.LineItem{
			{ProductID: "p-tomato", Quantity: 2, UnitPriceCents: 499},
			{ProductID: "p-honey", Quantity: 1, UnitPriceCents: 699},
		},
		Totals: orders.Totals{SubtotalCents: 1697, ShippingCents: 500, TaxCents: 85, TotalCents: 2282},
		Status: orders.StatusPending,
		ShippingAddress: orders.ShippingAddress{
			FullName: "Ana <b>Silva</b>", Address: "12 Orchard Lane", City: "Fresno", State: "CA", Zip: "93650",
		},
	}
}

func TestSendOrderConfirmation(t *testing.T) {
	mailer := &fakeMailer{}
	n := &EmailNotifier{Mailer: mailer, StoreName: "Green Acre Market", Log: zap.NewNop()}

	d := n.SendOrderConfirmation(context.Background(), sampleOrder(), orders.Recipient{Email: "ana@example.com", Name: "Ana"})
	assert.Equal(t, orders.Delivery{Sent: true}, d)
	require.Len(t, mailer.sent, 1)

	msg := mailer.sent[0]
	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Green Acre Market order o-1 confirmed", msg.Subject)
	assert.Contains(t, msg.HTML, "Total: 22.82")
	assert.Contains(t, msg.HTML, "<td>9.98</td>")
	assert.Contains(t, msg.HTML, "Ana &lt;b&gt;Silva&lt;/b&gt;")
	assert.NotContains(t, msg.HTML, "<b>Silva</b>")
}

func TestSendOrderStatusUpdate(t *testing.T) {
	mailer := &fakeMailer{}
	n := &EmailNotifier{Mailer: mailer, StoreName: "Green Acre Market", Log: zap.NewNop()}

	d := n.SendOrderStatusUpdate(context.Background(), sampleOrder(), orders.Recipient{Email: "ana@example.com", Name: "Ana"}, orders.StatusShipped)
	assert.True(t, d.Sent)
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].Subject, "is shipped")
	assert.Contains(t, mailer.sent[0].HTML, "<strong>shipped</strong>")
}

func TestDeliveryFailuresAreReported(t *testing.T) {
	n := &EmailNotifier{Mailer: &fakeMailer{err: errors.New("smtp: 421 try later")}, StoreName: "Green Acre Market", Log: zap.NewNop()}

	d := n.SendOrderConfirmation(context.Background(), sampleOrder(), orders.Recipient{Email: "ana@example.com"})
	assert.False(t, d.Sent)
	assert.Equal(t, []string{"smtp: 421 try later"}, d.Errors)

	d = n.SendOrderConfirmation(context.Background(), sampleOrder(), orders.Recipient{Name: "Ana"})
	assert.False(t, d.Sent)
	assert.Equal(t, []string{"recipient email is empty"}, d.Errors)
}

func TestDeliveryFailureWithoutLogger(t *testing.T) {
	n := &EmailNotifier{Mailer: &fakeMailer{err: errors.New("smtp: 421 try later")}}
	var d orders.Delivery
	assert.NotPanics(t, func() {
		d = n.SendOrderStatusUpdate(context.Background(), sampleOrder(), orders.Recipient{Email: "ana@example.com"}, orders.StatusShipped)
	})
	assert.False(t, d.Sent)
	assert.Equal(t, []string{"smtp: 421 try later"}, d.Errors)
}

func TestBuildMessage(t *testing.T) {
	raw := string(buildMessage("shop@example.com", Message{To: "ana@example.com", Subject: "Order o-1", HTML: "<p>hi</p>"},
		time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)))

	assert.True(t, strings.HasPrefix(raw, "From: shop@example.com\r\nTo: ana@example.com\r\n"))
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}

func TestSMTPMailerNeedsHost(t *testing.T) {
	err := (&SMTPMailer{}).Send(context.Background(), Message{To: "ana@example.com"})
	assert.Error(t, err)
}
