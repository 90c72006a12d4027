package slack

import (
	"context"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/calder-analytics/geniebot/internal/bridge"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	posted    []postedMessage
	postErr   error
	updated   []updatedMessage
	updateErr error
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

type updatedMessage struct {
	channelID string
	timestamp string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return "", "", "", m.updateErr
	}
	m.updated = append(m.updated, updatedMessage{channelID: channelID, timestamp: timestamp, options: options})
	return channelID, timestamp, "", nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func (m *mockSlackClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

func (m *mockSlackClient) updatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updated)
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events  chan socketmode.Event
	acked   []socketmode.Request
	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{
		events: make(chan socketmode.Event, 100),
		done:   make(chan struct{}),
	}
}

func (m *mockSocketClient) Run() error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	// Block until done is closed (don't consume from events).
	<-m.done
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()

	a, err := New(AdapterOpts{
		Client: client,
		Socket: socket,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client, socket
}

func recvEvent(t *testing.T, ch <-chan bridge.Event) bridge.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return bridge.Event{}
	}
}

func expectNoEvent(t *testing.T, ch <-chan bridge.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{AppToken: "xapp-test"})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_RequiresAppToken(t *testing.T) {
	_, err := New(AdapterOpts{BotToken: "xoxb-test"})
	if err == nil {
		t.Fatal("expected error for missing app token")
	}
}

// --- Connect tests ---

func TestConnect_SetsBotUserID(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if got := a.BotUserID(); got != "U_BOT_123" {
		t.Errorf("bot user ID %q", got)
	}
}

func TestConnect_AfterCloseFails(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting after close")
	}
}

// --- Send tests ---

func TestSend_ReturnsTimestamp(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	ts, err := a.Send(context.Background(), bridge.OutboundMessage{
		ChannelID: "C1",
		Text:      "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("timestamp %q", ts)
	}
	if client.postedCount() != 1 {
		t.Errorf("posted %d messages", client.postedCount())
	}
	if client.lastPosted().channelID != "C1" {
		t.Errorf("channel %q", client.lastPosted().channelID)
	}
}

func TestSend_RequiresChannel(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	_, err := a.Send(context.Background(), bridge.OutboundMessage{Text: "hi"})
	if err == nil {
		t.Fatal("expected error for missing channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	client := newMockSlackClient()
	a, err := New(AdapterOpts{Client: client, Socket: newMockSocketClient()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, err = a.Send(context.Background(), bridge.OutboundMessage{ChannelID: "C1", Text: "hi"})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestSend_WithBlocks(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	_, err := a.Send(context.Background(), bridge.OutboundMessage{
		ChannelID: "C1",
		Text:      "Was this response helpful?",
		Blocks: []bridge.Block{
			{Kind: bridge.BlockSection, Text: "*Was this response helpful?*"},
			{Kind: bridge.BlockActions, Buttons: []bridge.Button{
				{ActionID: "feedback_positive", Label: "👍 Helpful"},
				{ActionID: "feedback_negative", Label: "👎 Not Helpful"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Fatalf("posted %d messages", client.postedCount())
	}
	// Blocks plus fallback text.
	if len(client.lastPosted().options) != 2 {
		t.Errorf("expected 2 msg options, got %d", len(client.lastPosted().options))
	}
}

// --- Update tests ---

func TestUpdate_CallsUpdateMessage(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	err := a.Update(context.Background(), "C1", "1111.2222", bridge.OutboundMessage{
		Text: "👍 _Thanks for your feedback!_",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if client.updatedCount() != 1 {
		t.Fatalf("updated %d messages", client.updatedCount())
	}
	upd := client.updated[0]
	if upd.channelID != "C1" || upd.timestamp != "1111.2222" {
		t.Errorf("update target %q %q", upd.channelID, upd.timestamp)
	}
}

// --- Event pump tests ---

func newMessageEvent(ev *slackevents.MessageEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: ev,
			},
		},
		Request: &socketmode.Request{},
	}
}

func TestListen_DirectMessage(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	socket.events <- newMessageEvent(&slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		User:        "U1",
		Text:        "how is revenue?",
		TimeStamp:   "1700000000.000100",
	})

	ev := recvEvent(t, ch)
	if ev.Kind != bridge.EventMessage {
		t.Fatalf("kind %q", ev.Kind)
	}
	if ev.Message.ChannelID != "D1" || ev.Message.Text != "how is revenue?" {
		t.Errorf("message %+v", ev.Message)
	}
	// Un-threaded messages key the thread by their own timestamp.
	if ev.Message.ThreadID != "1700000000.000100" {
		t.Errorf("thread ID %q", ev.Message.ThreadID)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked %d events", socket.ackedCount())
	}
}

func TestListen_ThreadReplyUsesParentThread(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- newMessageEvent(&slackevents.MessageEvent{
		Channel:         "C1",
		ChannelType:     "channel",
		User:            "U1",
		Text:            "follow-up",
		TimeStamp:       "1700000005.000200",
		ThreadTimeStamp: "1700000000.000100",
	})

	ev := recvEvent(t, ch)
	if ev.Message.ThreadID != "1700000000.000100" {
		t.Errorf("thread ID %q", ev.Message.ThreadID)
	}
}

func TestListen_ChannelChatterIgnored(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	// Unthreaded channel message that never mentioned the bot.
	socket.events <- newMessageEvent(&slackevents.MessageEvent{
		Channel:     "C1",
		ChannelType: "channel",
		User:        "U1",
		Text:        "lunch?",
		TimeStamp:   "1700000000.000300",
	})

	expectNoEvent(t, ch)
}

func TestListen_SubtypeIgnored(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- newMessageEvent(&slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		User:        "U1",
		SubType:     "message_changed",
		TimeStamp:   "1700000000.000400",
	})

	expectNoEvent(t, ch)
}

func TestListen_BotMessageFlagged(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- newMessageEvent(&slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		BotID:       "B9",
		Text:        "I am a bot",
		TimeStamp:   "1700000000.000500",
	})

	ev := recvEvent(t, ch)
	if !ev.Message.IsBot {
		t.Error("bot message not flagged")
	}
}

func TestListen_SelfMessageFlagged(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- newMessageEvent(&slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		User:        "U_BOT_123",
		Text:        "echo",
		TimeStamp:   "1700000000.000600",
	})

	ev := recvEvent(t, ch)
	if !ev.Message.IsBot {
		t.Error("self message not flagged")
	}
}

func TestListen_AppMention(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.AppMentionEvent{
					Channel:   "C1",
					User:      "U1",
					Text:      "<@U_BOT_123> show revenue",
					TimeStamp: "1700000000.000700",
				},
			},
		},
		Request: &socketmode.Request{},
	}

	ev := recvEvent(t, ch)
	if ev.Kind != bridge.EventMessage {
		t.Fatalf("kind %q", ev.Kind)
	}
	if ev.Message.Text != "<@U_BOT_123> show revenue" {
		t.Errorf("text %q", ev.Message.Text)
	}
	if ev.Message.ThreadID != "1700000000.000700" {
		t.Errorf("thread ID %q", ev.Message.ThreadID)
	}
}

func TestListen_BlockAction(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	callback := slackapi.InteractionCallback{
		Type: slackapi.InteractionTypeBlockActions,
		User: slackapi.User{ID: "U1"},
		ActionCallback: slackapi.ActionCallbacks{
			BlockActions: []*slackapi.BlockAction{
				{ActionID: "feedback_positive"},
			},
		},
	}
	callback.Channel.ID = "C1"
	callback.Message.Timestamp = "1700000001.000100"

	socket.events <- socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    callback,
		Request: &socketmode.Request{},
	}

	ev := recvEvent(t, ch)
	if ev.Kind != bridge.EventInteraction {
		t.Fatalf("kind %q", ev.Kind)
	}
	in := ev.Interaction
	if in.ActionID != "feedback_positive" || in.ChannelID != "C1" ||
		in.MessageID != "1700000001.000100" || in.UserID != "U1" {
		t.Errorf("interaction %+v", in)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked %d events", socket.ackedCount())
	}
}

func TestListen_NonBlockActionInteractionIgnored(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    slackapi.InteractionCallback{Type: slackapi.InteractionTypeShortcut},
		Request: &socketmode.Request{},
	}

	expectNoEvent(t, ch)
}

// --- timestamp parsing ---

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1700000000.000100")
	if ts.Unix() != 1700000000 {
		t.Errorf("got %v", ts)
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("expected zero time for garbage input")
	}
}
