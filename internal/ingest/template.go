package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Placeholders understood by Expand.
const (
	PlaceholderTime = "{time}"
	PlaceholderDate = "{date}"
)

// Expand substitutes the time placeholders in text. "It's {time}" becomes
// "It's 7:05 PM".
func Expand(text string, now time.Time) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return strings.NewReplacer(
		PlaceholderTime, HumanTime(now),
		PlaceholderDate, HumanDate(now),
	).Replace(text)
}

// HumanTime renders a clock time the way it is spoken.
func HumanTime(t time.Time) string {
	return t.Format("3:04 PM")
}

// HumanDate renders a date the way it is spoken, e.g.
// "Friday, 16th of October, 2026".
func HumanDate(t time.Time) string {
	return fmt.Sprintf("%s, %s of %s, %d", t.Weekday(), humanize.Ordinal(t.Day()), t.Month(), t.Year())
}
