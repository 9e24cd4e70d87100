package engine

import (
	"fmt"
	"html"
	"strings"
	"time"

	"duewatch/internal/messenger"
	"duewatch/internal/storage"
)

// Urgency tiers drive the accent color of the HTML body.
const (
	colorOverdue  = "#c62828" // red
	colorCritical = "#e65100" // deep orange, 3 days or less
	colorSoon     = "#f9a825" // amber, a week out
	colorNear     = "#1565c0" // blue, a month out
	colorCalm     = "#2e7d32" // green, further than that
)

func urgencyColor(days int) string {
	switch {
	case days < 0:
		return colorOverdue
	case days <= 3:
		return colorCritical
	case days <= 7:
		return colorSoon
	case days <= 30:
		return colorNear
	default:
		return colorCalm
	}
}

// periodPhrase renders the lead distance the way people say it: months
// for the long leads, days below that, and special wording for the due
// day and overdue.
func periodPhrase(days int) string {
	switch {
	case days < 0:
		if -days == 1 {
			return "1 day overdue"
		}
		return fmt.Sprintf("%d days overdue", -days)
	case days == 0:
		return "due TODAY"
	case days == 1:
		return "due tomorrow"
	case days%30 == 0 && days >= 60:
		return fmt.Sprintf("due in %d months", days/30)
	default:
		return fmt.Sprintf("due in %d days", days)
	}
}

func renderReminder(ob storage.Obligation, leadDays int, now time.Time) messenger.Message {
	phrase := periodPhrase(leadDays)
	subject := fmt.Sprintf("Payment reminder: %s %s", ob.Name, phrase)
	return messenger.Message{
		Subject: subject,
		HTML:    reminderHTML("Payment reminder", ob.Name, ob.Ref, ob.DueAt, leadDays, ""),
		Text:    reminderText(ob.Name, ob.Ref, ob.DueAt, phrase),
	}
}

func renderUrgent(ob storage.Obligation, now time.Time) messenger.Message {
	days := daysUntil(now, ob.DueAt)
	phrase := periodPhrase(days)
	subject := fmt.Sprintf("URGENT: %s %s", ob.Name, phrase)
	note := "This deadline is imminent and no reminder reached you today."
	return messenger.Message{
		Subject: subject,
		HTML:    reminderHTML("Urgent deadline", ob.Name, ob.Ref, ob.DueAt, days, note),
		Text:    note + "\n\n" + reminderText(ob.Name, ob.Ref, ob.DueAt, phrase),
	}
}

func renderDocument(doc storage.Document, days int) messenger.Message {
	phrase := periodPhrase(days)
	label := "Document"
	if doc.Kind != "" {
		label = strings.ToUpper(doc.Kind[:1]) + doc.Kind[1:]
	}
	subject := fmt.Sprintf("%s expiring: %s %s", label, doc.Name, phrase)
	if days < 0 {
		subject = fmt.Sprintf("%s EXPIRED: %s (%s)", label, doc.Name, phrase)
	}
	return messenger.Message{
		Subject: subject,
		HTML:    reminderHTML(label+" expiry", doc.Name, "", doc.DueAt, days, ""),
		Text:    reminderText(doc.Name, "", doc.DueAt, phrase),
	}
}

func reminderHTML(kind, name, ref string, dueAt time.Time, days int, note string) string {
	color := urgencyColor(days)
	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;max-width:560px">`)
	fmt.Fprintf(&b, `<h2 style="color:%s;margin-bottom:4px">%s</h2>`, color, html.EscapeString(kind))
	fmt.Fprintf(&b, `<p style="font-size:16px"><b>%s</b> is <span style="color:%s;font-weight:bold">%s</span>.</p>`,
		html.EscapeString(name), color, html.EscapeString(periodPhrase(days)))
	b.WriteString(`<table style="border-collapse:collapse;font-size:14px">`)
	if ref != "" {
		fmt.Fprintf(&b, `<tr><td style="padding:2px 12px 2px 0;color:#666">Reference</td><td>%s</td></tr>`,
			html.EscapeString(ref))
	}
	fmt.Fprintf(&b, `<tr><td style="padding:2px 12px 2px 0;color:#666">Due date</td><td>%s</td></tr>`,
		dueAt.Format("2006-01-02"))
	b.WriteString(`</table>`)
	if note != "" {
		fmt.Fprintf(&b, `<p style="color:%s">%s</p>`, color, html.EscapeString(note))
	}
	b.WriteString(`<p style="color:#999;font-size:12px">Automated reminder from duewatch.</p>`)
	b.WriteString(`</div>`)
	return b.String()
}

func reminderText(name, ref string, dueAt time.Time, phrase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is %s.\n", name, phrase)
	if ref != "" {
		fmt.Fprintf(&b, "Reference: %s\n", ref)
	}
	fmt.Fprintf(&b, "Due date: %s\n", dueAt.Format("2006-01-02"))
	return b.String()
}
