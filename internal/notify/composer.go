package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Composer renders emails from order snapshots and OTP payloads.
type Composer struct {
	shop  string
	owner string
	tmpl  *template.Template
}

func NewComposer(shopName, ownerEmail string) (*Composer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
		"date":  func(t time.Time) string { return t.UTC().Format("2 Jan 2006") },
		"minutes": func(until time.Time) int {
			m := int(time.Until(until).Round(time.Minute) / time.Minute)
			if m < 1 {
				return 1
			}
			return m
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Composer{shop: shopName, owner: ownerEmail, tmpl: tmpl}, nil
}

type orderView struct {
	Shop  string
	Order model.Order
}

func (c *Composer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (c *Composer) orderMessage(tmpl, to, subject string, o model.Order) (Message, error) {
	html, err := c.render(tmpl, orderView{Shop: c.shop, Order: o})
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: subject, HTML: html}, nil
}

// ReservationConfirmation is sent to the buyer right after checkout.
func (c *Composer) ReservationConfirmation(o model.Order) (Message, error) {
	return c.orderMessage("reservation_confirmation.html", o.Contact.Email,
		fmt.Sprintf("%s: reservation %s received", c.shop, o.OrderNumber), o)
}

// OwnerNotification tells the workshop about a new reservation.
func (c *Composer) OwnerNotification(o model.Order) (Message, error) {
	m, err := c.orderMessage("owner_notification.html", c.owner,
		fmt.Sprintf("New reservation %s (%s)", o.OrderNumber, o.Total.StringFixed(2)), o)
	m.ReplyTo = o.Contact.Email
	return m, err
}

// ShippingNotification carries the tracking details of a shipped order.
func (c *Composer) ShippingNotification(o model.Order) (Message, error) {
	return c.orderMessage("shipping_notification.html", o.Contact.Email,
		fmt.Sprintf("%s: order %s has shipped", c.shop, o.OrderNumber), o)
}

// PaymentReceived confirms payment and includes the invoice.
func (c *Composer) PaymentReceived(o model.Order) (Message, error) {
	return c.orderMessage("payment_received.html", o.Contact.Email,
		fmt.Sprintf("%s: payment received for %s", c.shop, o.OrderNumber), o)
}

// OTP is the email verification code.
func (c *Composer) OTP(p model.OTPEmailPayload) (Message, error) {
	html, err := c.render("otp.html", struct {
		Shop string
		model.OTPEmailPayload
	}{c.shop, p})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{p.Email},
		Subject: fmt.Sprintf("%s: your verification code is %s", c.shop, p.Code),
		HTML:    html,
	}, nil
}
