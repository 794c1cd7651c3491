package ingest

import (
	"testing"
	"time"
)

func TestExpand(t *testing.T) {
	morning := time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
		now  time.Time
		want string
	}{
		{"time", "It's {time}", fixedNow, "It's 7:05 PM"},
		{"morning", "It's {time}", morning, "It's 9:30 AM"},
		{"date", "Today is {date}.", fixedNow, "Today is Friday, 16th of October, 2026."},
		{"both", "{date} at {time}", morning, "Sunday, 1st of March, 2026 at 9:30 AM"},
		{"plain", "Dinner is ready", fixedNow, "Dinner is ready"},
		{"unknown placeholder", "Hello {name}", fixedNow, "Hello {name}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expand(tt.text, tt.now); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
