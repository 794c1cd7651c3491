package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
)

func startSubscriber(t *testing.T, f *fixture) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	conn, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	sub := NewSubscriber(conn, "", f.adapter, nil)
	require.NoError(t, sub.Start())

	t.Cleanup(func() {
		_ = sub.Drain()
		conn.Close()
		server.Shutdown()
	})
	return conn
}

func request(t *testing.T, conn *nats.Conn, subject string, data []byte) Receipt {
	t.Helper()
	msg, err := conn.Request(subject, data, 3*time.Second)
	require.NoError(t, err)

	var r Receipt
	require.NoError(t, json.Unmarshal(msg.Data, &r))
	return r
}

func TestSubscriber_Say(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	body, err := json.Marshal(SayCommand{Content: "It's {time}", Style: "cheerful", Template: true})
	require.NoError(t, err)

	r := request(t, conn, "home.speak.say", body)
	assert.Empty(t, r.Error)
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, backend.IDMock, r.Backend)
	assert.NotEmpty(t, r.Fingerprint)

	played := f.waitPlayed(t, 1)
	assert.Equal(t, "It's 7:05 PM", played[0])
	assert.Contains(t, string(f.sink.Played()[0].Audio), "|cheerful|")
	assert.Equal(t, "nats:say", f.sink.Played()[0].Source)
}

func TestSubscriber_SayStyleAndEleven(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	r := request(t, conn, "home.speak.say.sad", []byte("The washing is done"))
	require.Empty(t, r.Error)

	r = request(t, conn, "home.speak.eleven.say", []byte("Default voice"))
	require.Empty(t, r.Error)
	assert.Equal(t, backend.IDElevenLabs, r.Backend)

	r = request(t, conn, "home.speak.eleven.say.Rachel", []byte("Named voice"))
	require.Empty(t, r.Error)

	f.waitPlayed(t, 3)
	played := f.sink.Played()
	assert.Equal(t, "MOCK|mock|mock-voice-1|sad|The washing is done", string(played[0].Audio))
	assert.Equal(t, "MOCK|elevenlabs|mock-voice-1|plain|Default voice", string(played[1].Audio))
	assert.Equal(t, "MOCK|elevenlabs|Rachel|plain|Named voice", string(played[2].Audio))
}

func TestSubscriber_FireAndForget(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Publish("home.speak.say.plain", []byte(text)))
	}
	require.NoError(t, conn.Flush())

	assert.Equal(t, []string{"one", "two", "three"}, f.waitPlayed(t, 3))
}

func TestSubscriber_OrderAcrossSubjects(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	// The ElevenLabs phrases synthesize slower, so they finish late but
	// must still play in wire order.
	const pairs = 20
	var want []string
	for i := range pairs {
		plain := fmt.Sprintf("plain %02d", i)
		eleven := fmt.Sprintf("eleven %02d", i)
		f.eleven.SetDelayFor(eleven, 15*time.Millisecond)

		require.NoError(t, conn.Publish("home.speak.say.plain", []byte(plain)))
		require.NoError(t, conn.Publish("home.speak.eleven.say", []byte(eleven)))
		want = append(want, plain, eleven)
	}
	require.NoError(t, conn.Flush())

	assert.Equal(t, want, f.waitPlayed(t, 2*pairs))
	for i, msg := range f.sink.Played() {
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
}

func TestSubscriber_PlayAndPlayer(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	r := request(t, conn, "home.speak.play.mp3", []byte("ID3bytes"))
	require.Empty(t, r.Error)
	assert.Equal(t, uint64(1), r.Seq)

	r = request(t, conn, "home.speak.play.file", []byte(`{"name":"doorbell"}`))
	require.Empty(t, r.Error)
	assert.Equal(t, "doorbell.mp3", r.File)

	r = request(t, conn, "home.speak.play.file", []byte("chimes/low"))
	require.Empty(t, r.Error)
	assert.Equal(t, "chimes/low.mp3", r.File)

	assert.Equal(t, []string{"ID3bytes", "ID3doorbell.mp3", "ID3chimes/low.mp3"}, f.waitPlayed(t, 3))

	r = request(t, conn, "home.speak.player.volume", []byte("0.25"))
	require.Empty(t, r.Error)
	require.NotNil(t, r.Volume)
	assert.InDelta(t, 0.25, *r.Volume, 1e-9)

	r = request(t, conn, "home.speak.player.pause", nil)
	require.Empty(t, r.Error)
	assert.True(t, f.sink.Paused())
}

func TestSubscriber_Errors(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	tests := []struct {
		subject string
		data    string
		want    string
	}{
		{"home.speak.say", "{not json", "unmarshal"},
		{"home.speak.say", `{"content":""}`, "empty"},
		{"home.speak.say.whisper", "hello", "unsupported style"},
		{"home.speak.play.mp3", "", "empty"},
		{"home.speak.play.file", `{"name":"zzzz"}`, "not found"},
		{"home.speak.player.dance", "", "unknown player command"},
		{"home.speak.player.volume", "loud", "invalid argument"},
		{"home.speak.eleven.talk", "hi", "unknown route"},
		{"home.speak.say.plain.extra", "hi", "unknown route"},
		{"home.speak.alarm.create", `{"time":"soon","message":"x"}`, "invalid alarm"},
		{"home.speak.alarm.delete", "nope", "alarm not found"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimPrefix(tt.subject, "home.speak."), func(t *testing.T) {
			r := request(t, conn, tt.subject, []byte(tt.data))
			assert.Contains(t, r.Error, tt.want)
		})
	}
}

func TestSubscriber_Alarms(t *testing.T) {
	f := newFixture(t)
	conn := startSubscriber(t, f)

	msg, err := conn.Request("home.speak.alarm.create",
		[]byte(`{"time":"21:30","message":"Lock the back door","style":"angry","repeat_delay":5,"repeat_count":1}`), 3*time.Second)
	require.NoError(t, err)
	var created alarm.Alarm
	require.NoError(t, json.Unmarshal(msg.Data, &created))
	require.NotEmpty(t, created.ID)
	assert.True(t, created.Next.Equal(time.Date(2026, time.October, 16, 21, 30, 0, 0, time.UTC)), created.Next)

	msg, err = conn.Request("home.speak.alarm.list", nil, 3*time.Second)
	require.NoError(t, err)
	var list AlarmList
	require.NoError(t, json.Unmarshal(msg.Data, &list))
	require.Len(t, list.Alarms, 1)
	assert.Equal(t, "Lock the back door", list.Alarms[0].Message)

	r := request(t, conn, "home.speak.alarm.delete", []byte(created.ID))
	assert.Empty(t, r.Error)
	assert.Empty(t, f.alarms.List())
}
