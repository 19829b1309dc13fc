package autoreply

import (
	"strings"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// Render substitutes {{name}}, {{number}}, {{greeting}} and {{protocol}} in text.
// Unknown placeholders are left untouched.
func Render(text string, c contacts.Contact, t ticket.Ticket, now time.Time) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	r := strings.NewReplacer(
		"{{name}}", c.DisplayName(),
		"{{number}}", c.Number,
		"{{greeting}}", Greeting(now),
		"{{protocol}}", Protocol(t, now.Location()),
	)
	return r.Replace(text)
}

// Greeting returns the salutation for the hour of now.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		return "Good morning"
	case h >= 12 && h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// Protocol is the reference number shown to contacts: the ticket's creation date and
// the head of its id.
func Protocol(t ticket.Ticket, loc *time.Location) string {
	id := strings.ReplaceAll(t.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return created.In(loc).Format("20060102") + strings.ToUpper(id)
}
