// Package message renders the customer-facing text for each notification
// kind. Rendering is kept separate from delivery so templates are testable
// without SMTP or an SMS gateway.
package message

import (
	"fmt"
	"strings"
)

type Message struct {
	Subject string
	Body    string
	SMS     string
}

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

// FormatAmount renders a minor-unit amount with its currency, e.g.
// (150000, "BDT") -> "BDT 1500.00".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}

func Passcode(name, code, expiresAt string) Message {
	body := fmt.Sprintf(
		"%s\n\nYour PoolBook verification code is %s. It expires at %s.\nIf you did not request this, ignore this message.\n",
		greeting(name), code, expiresAt,
	)
	return Message{
		Subject: "Your PoolBook verification code",
		Body:    body,
		SMS:     fmt.Sprintf("PoolBook code: %s (expires %s)", code, expiresAt),
	}
}

func BookingConfirmed(name, startDate string, days int, startTime, endTime string, amountCents int64, currency string) Message {
	body := fmt.Sprintf(
		"%s\n\nYour pool booking is confirmed.\nFirst day: %s (%d consecutive days)\nTime: %s - %s\nPaid: %s\n\nSee you at the pool.\n",
		greeting(name), startDate, days, startTime, endTime, FormatAmount(amountCents, currency),
	)
	return Message{
		Subject: "Pool booking confirmed",
		Body:    body,
		SMS:     fmt.Sprintf("PoolBook: booking confirmed, %s for %d days at %s.", startDate, days, startTime),
	}
}

func BookingCancelled(name, date, startTime, reason string) Message {
	body := fmt.Sprintf("%s\n\nYour pool booking on %s at %s has been cancelled.", greeting(name), date, startTime)
	if strings.TrimSpace(reason) != "" {
		body += fmt.Sprintf("\nReason: %s", reason)
	}
	body += "\n"
	return Message{
		Subject: "Pool booking cancelled",
		Body:    body,
		SMS:     fmt.Sprintf("PoolBook: booking on %s at %s cancelled.", date, startTime),
	}
}

func BookingRescheduled(name, oldDate, oldStart, newDate, newStart string) Message {
	body := fmt.Sprintf(
		"%s\n\nYour pool booking was moved.\nFrom: %s at %s\nTo: %s at %s\n",
		greeting(name), oldDate, oldStart, newDate, newStart,
	)
	return Message{
		Subject: "Pool booking rescheduled",
		Body:    body,
		SMS:     fmt.Sprintf("PoolBook: booking moved to %s at %s.", newDate, newStart),
	}
}

func Refund(name string, amountCents int64, currency, refundedAt string) Message {
	body := fmt.Sprintf(
		"%s\n\nYour payment of %s was refunded on %s.\nThe money returns via the original payment method within a few business days.\n",
		greeting(name), FormatAmount(amountCents, currency), refundedAt,
	)
	return Message{
		Subject: "Pool booking refund issued",
		Body:    body,
		SMS:     fmt.Sprintf("PoolBook: refund of %s issued.", FormatAmount(amountCents, currency)),
	}
}

func Invoice(name, number string, amountCents int64, currency, issuedAt string) Message {
	body := fmt.Sprintf(
		"%s\n\nInvoice %s for %s was issued on %s.\nYou can download it from your PoolBook account.\n",
		greeting(name), number, FormatAmount(amountCents, currency), issuedAt,
	)
	return Message{
		Subject: fmt.Sprintf("Invoice %s", number),
		Body:    body,
		SMS:     fmt.Sprintf("PoolBook: invoice %s (%s) issued.", number, FormatAmount(amountCents, currency)),
	}
}
