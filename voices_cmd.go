package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/ingest"
)

const listWidth = 76

var (
	voicesCmd = &cobra.Command{
		Use:     "voices BACKEND [FILTER]",
		Short:   "List the voices a backend offers",
		Long:    paragraph(fmt.Sprintf("\n%s the voice catalog of a backend, optionally fuzzy filtered by name or id.", keyword("List"))),
		Example: paragraph("homespeak voices elevenlabs\nhomespeak voices azure sonia"),
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := lookupBackend(args[0])
			if err != nil {
				return err
			}
			catalog, ok := backend.AsVoiceCatalog(be)
			if !ok {
				return fmt.Errorf("backend %q has no voice catalog: %w", args[0], errors.ErrUnsupported)
			}
			voices, err := catalog.Voices(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 2 {
				voices = ingest.FilterVoices(voices, args[1])
			}
			fmt.Print(renderVoices(voices))
			return nil
		},
	}

	usageCmd = &cobra.Command{
		Use:     "usage BACKEND",
		Short:   "Show quota usage for a backend",
		Example: paragraph("homespeak usage elevenlabs"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := lookupBackend(args[0])
			if err != nil {
				return err
			}
			reporter, ok := backend.AsUsageReporter(be)
			if !ok {
				return fmt.Errorf("backend %q does not report usage: %w", args[0], errors.ErrUnsupported)
			}
			u, err := reporter.Usage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(renderUsage(args[0], u, time.Now()))
			return nil
		},
	}
)

func lookupBackend(id string) (backend.Backend, error) {
	reg, err := buildBackends(cfg)
	if err != nil {
		return nil, err
	}
	return reg.Get(id)
}

func renderVoices(voices []backend.Voice) string {
	if len(voices) == 0 {
		return "No voices found.\n"
	}
	var b strings.Builder
	for _, v := range voices {
		b.WriteString(headerStyle.Render(v.Name))
		b.WriteString(" ")
		b.WriteString(idStyle.Render(v.ID))
		b.WriteString("\n")

		var details []string
		if v.Language != "" {
			details = append(details, labelStyle.Render("language")+" "+v.Language)
		}
		if v.Gender != "" {
			details = append(details, labelStyle.Render("gender")+" "+v.Gender)
		}
		if len(v.Styles) > 0 {
			details = append(details, labelStyle.Render("styles")+" "+strings.Join(v.Styles, ", "))
		}
		if len(details) > 0 {
			b.WriteString(indent.String(wordwrap.String(strings.Join(details, "  "), listWidth-2), 2))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderUsage(id string, u backend.Usage, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(id))
	if u.Tier != "" {
		b.WriteString(" " + idStyle.Render(u.Tier))
	}
	b.WriteString("\n")

	unit := u.Unit
	if unit == "" {
		unit = "characters"
	}
	fmt.Fprintf(&b, "  %s %s of %s %s\n", labelStyle.Render("used"),
		humanize.Comma(u.Used), humanize.Comma(u.Limit), unit)
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("remaining"), humanize.Comma(u.Remaining()))
	if !u.ResetsAt.IsZero() {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("resets"), humanize.RelTime(u.ResetsAt, now, "ago", "from now"))
	}
	return b.String()
}
