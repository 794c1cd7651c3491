package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
)

// DefaultSubject is the base subject the subscriber listens under.
const DefaultSubject = "home.speak"

// ErrUnknownRoute is returned for subjects under the base subject that no
// handler serves.
var ErrUnknownRoute = errors.New("unknown route")

// SayCommand is the JSON body of B.say and of POST /say.
type SayCommand struct {
	Content  string `json:"content"`
	Style    string `json:"style,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Template bool   `json:"template,omitempty"`
}

// Phrase converts c into a Phrase from source.
func (c SayCommand) Phrase(source string) Phrase {
	return Phrase{
		Text:     c.Content,
		Voice:    c.Voice,
		Backend:  c.Backend,
		Style:    c.Style,
		Source:   source,
		Template: c.Template,
	}
}

// Subscriber serves the adapter on NATS subjects under a base subject B:
//
//	B.say                 JSON SayCommand
//	B.say.<style>         text
//	B.eleven.say          text, ElevenLabs default voice
//	B.eleven.say.<voice>  text, ElevenLabs voice by name
//	B.play.mp3            raw MP3 bytes
//	B.play.file           JSON SoundRequest
//	B.player.<command>    optional argument as text
//	B.alarm.create        JSON alarm.Alarm
//	B.alarm.list          empty
//	B.alarm.delete        alarm id as text
//
// All routes share one subscription, so sequences follow wire order
// across subjects. Messages with a reply subject are answered with JSON.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	adapter *Adapter
	logger  *log.Logger

	sub *nats.Subscription
}

// NewSubscriber returns a Subscriber for base subject. An empty subject
// selects DefaultSubject.
func NewSubscriber(conn *nats.Conn, subject string, adapter *Adapter, logger *log.Logger) *Subscriber {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		conn:    conn,
		subject: strings.TrimSuffix(subject, "."),
		adapter: adapter,
		logger:  logger,
	}
}

// Subject returns the base subject.
func (s *Subscriber) Subject() string {
	return s.subject
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Drain()
}

// Start subscribes to every route under the base subject.
func (s *Subscriber) Start() error {
	wildcard := s.subject + ".>"
	sub, err := s.conn.Subscribe(wildcard, s.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", wildcard, err)
	}
	s.sub = sub
	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	s.logger.Info("nats subscriber ready", "subject", wildcard)
	return nil
}

// Drain drains the subscription.
func (s *Subscriber) Drain() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}

// dispatch routes msg by the subject tokens after the base subject.
func (s *Subscriber) dispatch(msg *nats.Msg) {
	route := strings.TrimPrefix(msg.Subject, s.subject+".")
	head, rest, _ := strings.Cut(route, ".")

	switch {
	case route == "say":
		s.handleSay(msg)
	case head == "say" && rest != "" && !strings.Contains(rest, "."):
		s.handleSayStyle(msg)
	case route == "eleven.say", strings.HasPrefix(route, "eleven.say.") && strings.Count(route, ".") == 2:
		s.handleEleven(msg)
	case route == "play.mp3":
		s.handlePlayMP3(msg)
	case route == "play.file":
		s.handlePlayFile(msg)
	case head == "player" && rest != "" && !strings.Contains(rest, "."):
		s.handlePlayer(msg)
	case route == "alarm.create":
		s.handleAlarmCreate(msg)
	case route == "alarm.list":
		s.handleAlarmList(msg)
	case route == "alarm.delete":
		s.handleAlarmDelete(msg)
	default:
		s.fail(msg, fmt.Errorf("%w: %s", ErrUnknownRoute, route))
	}
}

func (s *Subscriber) handleSay(msg *nats.Msg) {
	var cmd SayCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.fail(msg, fmt.Errorf("failed to unmarshal say command: %w", err))
		return
	}
	s.say(msg, cmd.Phrase(s.source(msg)))
}

func (s *Subscriber) handleSayStyle(msg *nats.Msg) {
	s.say(msg, Phrase{
		Text:   string(msg.Data),
		Style:  lastToken(msg.Subject),
		Source: s.source(msg),
	})
}

func (s *Subscriber) handleEleven(msg *nats.Msg) {
	p := Phrase{
		Text:    string(msg.Data),
		Backend: backend.IDElevenLabs,
		Source:  s.source(msg),
	}
	if msg.Subject != s.subject+".eleven.say" {
		p.Voice = lastToken(msg.Subject)
	}
	s.say(msg, p)
}

// say assigns the sequence on the subscription goroutine so arrival order
// is kept, and replies once synthesis finished.
func (s *Subscriber) say(msg *nats.Msg, p Phrase) {
	var done func(Receipt, error)
	if msg.Reply != "" {
		done = func(r Receipt, _ error) { s.respond(msg, r) }
	}
	if _, err := s.adapter.submit(context.Background(), p, done); err != nil {
		s.fail(msg, err)
	}
}

func (s *Subscriber) handlePlayMP3(msg *nats.Msg) {
	r, err := s.adapter.PlayAudio(msg.Data, s.source(msg))
	s.reply(msg, r, err)
}

func (s *Subscriber) handlePlayFile(msg *nats.Msg) {
	var req SoundRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		// A bare name is accepted too.
		req = SoundRequest{Name: strings.TrimSpace(string(msg.Data))}
	}
	r, err := s.adapter.PlaySound(req, s.source(msg))
	s.reply(msg, r, err)
}

func (s *Subscriber) handlePlayer(msg *nats.Msg) {
	r, err := s.adapter.Control(lastToken(msg.Subject), string(msg.Data))
	s.reply(msg, r, err)
}

func (s *Subscriber) handleAlarmCreate(msg *nats.Msg) {
	var a alarm.Alarm
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		s.fail(msg, fmt.Errorf("failed to unmarshal alarm: %w", err))
		return
	}
	created, err := s.adapter.AddAlarm(a)
	if err != nil {
		s.fail(msg, err)
		return
	}
	s.respondJSON(msg, created)
}

func (s *Subscriber) handleAlarmList(msg *nats.Msg) {
	alarms, err := s.adapter.Alarms()
	if err != nil {
		s.fail(msg, err)
		return
	}
	s.respondJSON(msg, AlarmList{Alarms: alarms})
}

func (s *Subscriber) handleAlarmDelete(msg *nats.Msg) {
	err := s.adapter.RemoveAlarm(strings.TrimSpace(string(msg.Data)))
	s.reply(msg, Receipt{}, err)
}

func (s *Subscriber) reply(msg *nats.Msg, r Receipt, err error) {
	if err != nil {
		s.fail(msg, err)
		return
	}
	s.respond(msg, r)
}

func (s *Subscriber) fail(msg *nats.Msg, err error) {
	s.logger.Error("nats request failed", "subject", msg.Subject, "err", err)
	s.respond(msg, Receipt{Error: err.Error()})
}

func (s *Subscriber) respond(msg *nats.Msg, r Receipt) {
	s.respondJSON(msg, r)
}

func (s *Subscriber) respondJSON(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal reply", "subject", msg.Subject, "err", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("failed to publish reply", "subject", msg.Subject, "err", err)
	}
}

func (s *Subscriber) source(msg *nats.Msg) string {
	return "nats:" + strings.TrimPrefix(msg.Subject, s.subject+".")
}

func lastToken(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// StartEmbeddedNATS runs an in-process NATS server listening on the host
// and port of rawURL, with JetStream stored under storeDir.
func StartEmbeddedNATS(rawURL, storeDir string, logger *log.Logger) (*server.Server, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing nats url: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("parsing nats url: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing nats port: %w", err)
	}

	ns, err := server.NewServer(&server.Options{
		Host:      host,
		Port:      port,
		JetStream: true,
		StoreDir:  storeDir,
		NoSigs:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded nats server did not start")
	}
	if logger != nil {
		logger.Info("embedded nats server running", "url", ns.ClientURL(), "store", storeDir)
	}
	return ns, nil
}
