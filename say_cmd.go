package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/config"
	"github.com/dgnsrekt/homespeak/internal/ingest"
	"github.com/dgnsrekt/homespeak/internal/playback"
	"github.com/dgnsrekt/homespeak/internal/speech"
)

var (
	timeNow = time.Now

	sayVoice     string
	sayStyle     string
	sayTemplate  bool
	sayClipboard bool
	sayOut       string

	sayCmd = &cobra.Command{
		Use:   "say [TEXT]",
		Short: "Speak a phrase once",
		Long: paragraph(fmt.Sprintf("\n%s a phrase through the configured backends and play it on this machine, or write the audio to a file. Cached audio is reused.",
			keyword("Synthesize"))),
		Example: paragraph("homespeak say \"Dinner is ready\"\nhomespeak say --voice butler --style cheerful \"Welcome home\"\nhomespeak say --clipboard --out note.mp3"),
		Args:    cobra.ArbitraryArgs,
		RunE:    runSay,
	}
)

func sayText(args []string) (string, error) {
	if sayClipboard {
		if clipboard.Unsupported {
			return "", errors.New("no clipboard available on this system")
		}
		text, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("reading clipboard: %w", err)
		}
		return text, nil
	}
	if len(args) == 0 {
		return "", errors.New("nothing to say: pass text or --clipboard")
	}
	return strings.Join(args, " "), nil
}

func runSay(cmd *cobra.Command, args []string) error {
	text, err := sayText(args)
	if err != nil {
		return err
	}
	if sayTemplate {
		text = ingest.Expand(text, timeNow())
	}
	style, err := backend.ParseStyle(sayStyle)
	if err != nil {
		return err
	}

	local := cfg
	if local.Cache.Durable != config.DurableNATS {
		local.NATS.Enabled = false
	}
	if sayOut != "" {
		local.Playback.Sink = config.SinkNone
	}
	a, err := newApp(local, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	res, err := a.speech.Speak(cmd.Context(), speech.Request{
		Text:   text,
		Voice:  sayVoice,
		Style:  style,
		Source: "cli",
	})
	if err != nil {
		return err
	}
	log.Debug("synthesized", "backend", res.Backend, "voice", res.Voice, "cached", res.Cached,
		"size", humanize.Bytes(uint64(len(res.Audio.Data))))

	if sayOut != "" {
		if err := os.WriteFile(sayOut, res.Audio.Data, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("writing %s: %w", sayOut, err)
		}
		fmt.Println("Wrote", humanize.Bytes(uint64(len(res.Audio.Data))), "to", sayOut)
		return nil
	}
	return a.sink.Play(cmd.Context(), playback.NewMessage(1, res.Audio.Data, res.Audio.ContentType))
}

func init() {
	sayCmd.Flags().StringVarP(&sayVoice, "voice", "v", "", "voice alias, id or name")
	sayCmd.Flags().StringVarP(&sayStyle, "style", "s", "", "speaking style (plain, angry, cheerful, sad)")
	sayCmd.Flags().BoolVarP(&sayTemplate, "template", "t", false, "expand {time} and {date}")
	sayCmd.Flags().BoolVarP(&sayClipboard, "clipboard", "c", false, "speak the clipboard contents")
	sayCmd.Flags().StringVarP(&sayOut, "out", "o", "", "write audio to this file instead of playing it")
}
