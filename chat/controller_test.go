// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/testutil"
	"github.com/bureau-foundation/parley/messaging"
)

func testPassword(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// connectWithRooms connects alice, reports rooms A (older) and B
// (newer) with one message from bob each, and delivers Prepared.
func connectWithRooms(t *testing.T, h *harness) *fakeTransport {
	t.Helper()
	transport := h.connect(t)
	transport.setRooms(summary(roomA, "Alpha", 1000, "in a"), summary(roomB, "Bravo", 2000, "in b"))
	transport.addEvent(roomA, "$a1", bob, 1000, "in a")
	transport.addEvent(roomB, "$b1", bob, 2000, "in b")
	prepared(transport)
	return transport
}

func TestNewValidatesConfig(t *testing.T) {
	dialer, store := &fakeDialer{}, &memoryStore{}
	tests := []struct {
		name   string
		config Config
	}{
		{"no dialer", Config{Store: store}},
		{"no store", Config{Dialer: dialer}},
		{"window too large", Config{Dialer: dialer, Store: store, TimelineWindow: MaxTimelineWindow + 1}},
		{"negative window", Config{Dialer: dialer, Store: store, TimelineWindow: -1}},
		{"negative delay", Config{Dialer: dialer, Store: store, TypingStopDelay: -time.Second}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Error("New succeeded")
			}
		})
	}

	controller, err := New(Config{Dialer: dialer, Store: store})
	if err != nil {
		t.Fatalf("New with defaults: %v", err)
	}
	if controller.config.TimelineWindow != DefaultTimelineWindow || controller.config.TypingTimeout != DefaultTypingTimeout {
		t.Errorf("defaults not applied: %+v", controller.config)
	}
}

func TestResumeWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.controller.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if h.dialer.last() != nil {
		t.Error("dialed without a session")
	}
	if h.controller.Snapshot().HasSession {
		t.Error("HasSession without a stored session")
	}
}

func TestResumeConnects(t *testing.T) {
	h := newHarness(t, nil)
	transport := h.connect(t)
	state := h.controller.Snapshot()
	if !state.HasSession || state.UserID != alice || state.Connection != ConnectionConnecting {
		t.Errorf("state = %+v", state)
	}

	prepared(transport)
	state = h.controller.Snapshot()
	if state.Connection != ConnectionSynced || state.SyncState != messaging.SyncStatePrepared {
		t.Errorf("after Prepared: connection=%s sync=%s", state.Connection, state.SyncState)
	}
}

func TestAutoSelectWide(t *testing.T) {
	h := newHarness(t, nil)
	connectWithRooms(t, h)

	state := h.controller.Snapshot()
	if state.ActiveRoom != roomB {
		t.Fatalf("active room = %s, want %s (most recent)", state.ActiveRoom, roomB)
	}
	if state.ActiveRoomName != "Bravo" {
		t.Errorf("active room name = %q", state.ActiveRoomName)
	}
	if got := eventIDs(state.Timeline); !slices.Equal(got, []string{"$b1"}) {
		t.Errorf("timeline = %v, want [$b1]", got)
	}
	if got := roomIDs(state.Rooms); !slices.Equal(got, []ref.RoomID{roomB, roomA}) {
		t.Errorf("rooms = %v", got)
	}
}

func TestAutoSelectCompact(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.Platform = PlatformCompact })
	connectWithRooms(t, h)
	if active := h.controller.Snapshot().ActiveRoom; !active.IsZero() {
		t.Errorf("compact platform auto-selected %s", active)
	}
}

func TestAutoSelectOnlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	h.controller.SelectRoom(ref.RoomID{})

	transport.emit(messaging.Notification{Kind: messaging.RoomsChanged})
	if active := h.controller.Snapshot().ActiveRoom; !active.IsZero() {
		t.Errorf("later refresh re-selected %s", active)
	}
}

func TestRoomSwitchDiscardsPreviousTimeline(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	h.controller.SelectRoom(roomA)

	appended(transport, roomA, transport.addEvent(roomA, "$a2", bob, 3000, "just before"), false)
	h.controller.SelectRoom(roomB)
	appended(transport, roomA, transport.addEvent(roomA, "$a3", bob, 4000, "just after"), false)

	if got := eventIDs(h.controller.Snapshot().Timeline); !slices.Equal(got, []string{"$b1"}) {
		t.Errorf("timeline = %v, want only room B's [$b1]", got)
	}

	h.controller.SelectRoom(roomA)
	if got := eventIDs(h.controller.Snapshot().Timeline); !slices.Equal(got, []string{"$a1", "$a2", "$a3"}) {
		t.Errorf("timeline after switching back = %v", got)
	}
}

func TestHistoricalAppendIgnored(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	event := messaging.Event{
		EventID: ref.MustParseEventID("$old"),
		Type:    ref.EventTypeRoomMessage,
		Sender:  bob,
		Content: map[string]any{"msgtype": "m.text", "body": "backfill"},
	}
	appended(transport, roomB, event, true)
	if got := eventIDs(h.controller.Snapshot().Timeline); !slices.Equal(got, []string{"$b1"}) {
		t.Errorf("timeline = %v, historical event applied", got)
	}
}

func TestTimelineWindowApplied(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.TimelineWindow = 2 })
	transport := connectWithRooms(t, h)
	for _, id := range []string{"$b2", "$b3", "$b4"} {
		appended(transport, roomB, transport.addEvent(roomB, id, bob, 3000, "more"), false)
	}
	if got := eventIDs(h.controller.Snapshot().Timeline); !slices.Equal(got, []string{"$b3", "$b4"}) {
		t.Errorf("timeline = %v, want [$b3 $b4]", got)
	}
}

func TestThrottledRefreshCoalesces(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	before := transport.roomQueryCount()

	transport.setRooms(summary(roomA, "Alpha", 9000, "burst"), summary(roomB, "Bravo", 2000, "in b"))
	for index := range 5 {
		event := transport.addEvent(roomA, "$burst"+string(rune('a'+index)), bob, 9000, "burst")
		appended(transport, roomA, event, false)
	}
	if got := roomIDs(h.controller.Snapshot().Rooms); !slices.Equal(got, []ref.RoomID{roomB, roomA}) {
		t.Errorf("rooms reordered before the throttle window: %v", got)
	}

	h.clock.Advance(DefaultRefreshThrottle)
	if got := transport.roomQueryCount() - before; got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := roomIDs(h.controller.Snapshot().Rooms); !slices.Equal(got, []ref.RoomID{roomA, roomB}) {
		t.Errorf("rooms after refresh = %v, want A first", got)
	}
}

func TestRefreshScheduledBeforeDisconnectNeverRuns(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	appended(transport, roomA, transport.addEvent(roomA, "$a2", bob, 5000, "late"), false)
	before := transport.roomQueryCount()

	h.controller.Close()
	h.clock.Advance(time.Second)

	if got := transport.roomQueryCount(); got != before {
		t.Errorf("refresh ran against a torn-down connection (%d queries, want %d)", got, before)
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Errorf("%d timers still pending after Close", pending)
	}
}

func TestReadReceipts(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	h.settle()

	want := []receiptCall{{RoomID: roomB, EventID: ref.MustParseEventID("$b1")}}
	if got := transport.receiptCalls(); !slices.Equal(got, want) {
		t.Fatalf("receipts after selection = %+v, want %+v", got, want)
	}

	appended(transport, roomB, transport.addEvent(roomB, "$mine", alice, 3000, "reply"), false)
	h.settle()
	if got := len(transport.receiptCalls()); got != 1 {
		t.Errorf("own message produced a receipt (%d total)", got)
	}

	appended(transport, roomB, transport.addEvent(roomB, "$b2", bob, 4000, "answer"), false)
	h.settle()
	want = append(want, receiptCall{RoomID: roomB, EventID: ref.MustParseEventID("$b2")})
	if got := transport.receiptCalls(); !slices.Equal(got, want) {
		t.Errorf("receipts = %+v, want %+v", got, want)
	}

	// Back to B after a detour: $b2 was already acknowledged.
	h.controller.SelectRoom(roomA)
	h.controller.SelectRoom(roomB)
	h.settle()
	for _, receipt := range transport.receiptCalls()[len(want):] {
		if receipt.EventID == ref.MustParseEventID("$b2") {
			t.Error("receipt for $b2 sent twice")
		}
	}
}

func TestTypingSetForActiveRoom(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	transport.names[carol] = "Carol"
	transport.setTyping(roomB, alice, bob, carol)
	transport.setTyping(roomA, bob)

	transport.emit(messaging.Notification{Kind: messaging.TypingChanged, RoomID: roomB})
	if got := h.controller.Snapshot().Typing; !slices.Equal(got, []string{"bob", "Carol"}) {
		t.Errorf("typing = %v, want [bob Carol]", got)
	}

	transport.setTyping(roomB)
	transport.emit(messaging.Notification{Kind: messaging.TypingChanged, RoomID: roomA})
	if got := h.controller.Snapshot().Typing; !slices.Equal(got, []string{"bob", "Carol"}) {
		t.Errorf("typing changed by another room's notification: %v", got)
	}

	h.controller.SelectRoom(roomA)
	if got := h.controller.Snapshot().Typing; !slices.Equal(got, []string{"bob"}) {
		t.Errorf("typing after switching to A = %v, want [bob]", got)
	}
}

func TestComposerTypingSignals(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)

	h.controller.OnComposerChange("h")
	h.settle()
	want := []typingCall{{RoomID: roomB, Typing: true, Timeout: DefaultTypingTimeout}}
	if got := transport.typingCalls(); !slices.Equal(got, want) {
		t.Fatalf("typing = %+v, want %+v", got, want)
	}

	h.controller.OnComposerChange("")
	h.clock.Advance(DefaultTypingStopDelay - time.Millisecond)
	h.settle()
	if got := len(transport.typingCalls()); got != 1 {
		t.Fatalf("stop sent before the debounce window (%d calls)", got)
	}
	h.clock.Advance(time.Millisecond)
	h.settle()
	calls := transport.typingCalls()
	if len(calls) != 2 || calls[1].Typing || calls[1].RoomID != roomB {
		t.Errorf("typing = %+v, want a stop in room B", calls)
	}
	if composer := h.controller.Snapshot().Composer; composer != "" {
		t.Errorf("composer = %q", composer)
	}
}

func TestSendStopsTypingFirst(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	h.controller.OnComposerChange("hello bob")
	h.settle()

	if err := h.controller.Send(context.Background(), "  hello bob  "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := transport.callLog()
	stopIndex := slices.Index(calls, "typing_stop")
	sendIndex := slices.Index(calls, "send_message")
	if stopIndex < 0 || sendIndex < 0 || stopIndex > sendIndex {
		t.Errorf("calls = %v, want typing_stop before send_message", calls)
	}

	if len(transport.messages) != 1 {
		t.Fatalf("messages = %+v", transport.messages)
	}
	sent := transport.messages[0]
	if sent.RoomID != roomB || sent.TransactionID != "txn1" || sent.Content.Body != "hello bob" || sent.Content.MsgType != "m.text" {
		t.Errorf("sent = %+v", sent)
	}
	state := h.controller.Snapshot()
	if state.Composer != "" || state.Sending || state.SendError != "" {
		t.Errorf("after send: composer=%q sending=%v error=%q", state.Composer, state.Sending, state.SendError)
	}

	// The debounced stop was cancelled by the synchronous one.
	h.clock.Advance(time.Second)
	h.settle()
	stops := 0
	for _, call := range transport.typingCalls() {
		if !call.Typing {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}

func TestSendStopsTypingQueuedJustBefore(t *testing.T) {
	for range 25 {
		h := newHarness(t, nil)
		transport := connectWithRooms(t, h)

		h.controller.OnComposerChange("hello")
		if err := h.controller.Send(context.Background(), "hello"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		h.settle()

		calls := transport.typingCalls()
		if len(calls) == 0 || calls[len(calls)-1].Typing {
			t.Fatalf("typing = %+v, want the last signal to be a stop", calls)
		}
		log := transport.callLog()
		sendIndex := slices.Index(log, "send_message")
		if sendIndex < 0 || slices.Contains(log[sendIndex:], "typing_start") || !slices.Contains(log[:sendIndex], "typing_stop") {
			t.Fatalf("calls = %v, want every typing signal before send_message, ending in a stop", log)
		}
	}
}

func TestSelectRoomOrdersTypingSignals(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)

	h.controller.OnComposerChange("draft for b")
	h.controller.SelectRoom(roomA)
	h.controller.OnComposerChange("draft for a")
	h.settle()

	calls := transport.typingCalls()
	lastB, firstA := -1, -1
	for index, call := range calls {
		switch call.RoomID {
		case roomB:
			lastB = index
		case roomA:
			if firstA < 0 {
				firstA = index
			}
		}
	}
	if lastB < 0 || calls[lastB].Typing {
		t.Fatalf("typing = %+v, want room B to end stopped", calls)
	}
	if firstA < lastB || !calls[firstA].Typing {
		t.Errorf("typing = %+v, want room B's stop before room A's start", calls)
	}
}

func TestSendTransactionIDsAreUnique(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.NewTransactionID = nil })
	transport := connectWithRooms(t, h)
	for range 3 {
		if err := h.controller.Send(context.Background(), "again"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	seen := map[string]bool{}
	for _, message := range transport.messages {
		if message.TransactionID == "" || seen[message.TransactionID] {
			t.Errorf("transaction ID %q empty or repeated", message.TransactionID)
		}
		seen[message.TransactionID] = true
	}
}

func TestSendNoop(t *testing.T) {
	t.Run("blank text", func(t *testing.T) {
		h := newHarness(t, nil)
		transport := connectWithRooms(t, h)
		h.controller.OnComposerChange("   ")
		if err := h.controller.Send(context.Background(), "   "); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if slices.Contains(transport.callLog(), "send_message") {
			t.Error("blank text transmitted")
		}
		if composer := h.controller.Snapshot().Composer; composer != "   " {
			t.Errorf("composer = %q, want it untouched", composer)
		}
	})
	t.Run("no active room", func(t *testing.T) {
		h := newHarness(t, func(config *Config) { config.Platform = PlatformCompact })
		transport := connectWithRooms(t, h)
		if err := h.controller.Send(context.Background(), "hello"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if slices.Contains(transport.callLog(), "send_message") {
			t.Error("message sent with no active room")
		}
	})
}

func TestSendFailurePreservesComposer(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	transport.mu.Lock()
	transport.sendErr = &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
	transport.mu.Unlock()

	h.controller.OnComposerChange("draft")
	if err := h.controller.Send(context.Background(), "draft"); err == nil {
		t.Fatal("Send succeeded")
	}
	state := h.controller.Snapshot()
	if state.Composer != "draft" {
		t.Errorf("composer = %q, want draft", state.Composer)
	}
	if !strings.Contains(state.SendError, "not in room") {
		t.Errorf("SendError = %q", state.SendError)
	}

	h.controller.SelectRoom(roomA)
	if h.controller.Snapshot().SendError != "" {
		t.Error("SendError survived a room switch")
	}
}

func TestSendMarkdown(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.Markdown = true })
	transport := connectWithRooms(t, h)
	if err := h.controller.Send(context.Background(), "**bold**"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	content := transport.messages[0].Content
	if content.Format != messaging.HTMLFormat || !strings.Contains(content.FormattedBody, "<strong>") {
		t.Errorf("content = %+v", content)
	}
}

func TestStartDirectMessage(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	h.controller.OpenDirectMessageDialog()

	if err := h.controller.StartDirectMessage(context.Background(), "  bob "); err != nil {
		t.Fatalf("StartDirectMessage: %v", err)
	}
	if len(transport.created) != 1 {
		t.Fatalf("created = %+v", transport.created)
	}
	request := transport.created[0]
	if !request.IsDirect || request.Preset != messaging.PresetTrustedPrivateChat {
		t.Errorf("request = %+v", request)
	}
	if !slices.Equal(request.Invite, []ref.UserID{bob}) {
		t.Errorf("invite = %v, want [%s]", request.Invite, bob)
	}
	if len(request.InitialState) != 1 || request.InitialState[0].Type != ref.EventTypeRoomEncryption {
		t.Errorf("initial state = %+v", request.InitialState)
	}
	if rooms := transport.direct[bob]; len(rooms) != 1 || rooms[0] != transport.createdRoom {
		t.Errorf("m.direct for bob = %v", rooms)
	}

	state := h.controller.Snapshot()
	if state.ActiveRoom != transport.createdRoom || state.DMDialogOpen || state.CreatingDM || state.DMError != "" {
		t.Errorf("state = active %s dialog %v creating %v error %q",
			state.ActiveRoom, state.DMDialogOpen, state.CreatingDM, state.DMError)
	}
}

func TestStartDirectMessageEncryptedWithoutSecureChannel(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.prepare = func(transport *fakeTransport) { transport.secureErr = errBoom }
	transport := connectWithRooms(t, h)
	if h.controller.Snapshot().Capabilities.SecureChannel {
		t.Fatal("secure channel reported after a failed init")
	}

	if err := h.controller.StartDirectMessage(context.Background(), "bob"); err != nil {
		t.Fatalf("StartDirectMessage: %v", err)
	}
	if len(transport.created) != 1 {
		t.Fatalf("created = %+v", transport.created)
	}
	initial := transport.created[0].InitialState
	if len(initial) != 1 || initial[0].Type != ref.EventTypeRoomEncryption {
		t.Errorf("initial state = %+v, want the encryption event", initial)
	}
}

func TestLogoutDuringDirectMessage(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	transport.createGate = make(chan struct{})
	transport.createEntered = make(chan struct{})
	h.controller.OpenDirectMessageDialog()

	result := make(chan error, 1)
	go func() { result <- h.controller.StartDirectMessage(context.Background(), "carol") }()
	testutil.RequireClosed(t, transport.createEntered, 5*time.Second, "CreateRoom never started")

	h.controller.Logout(context.Background())
	close(transport.createGate)
	err := testutil.RequireReceive(t, result, 5*time.Second, "StartDirectMessage never returned")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartDirectMessage = %v, want ErrNotConnected", err)
	}
	h.settle()

	state := h.controller.Snapshot()
	if state.HasSession || state.CreatingDM || state.DMError != "" || state.DMDialogOpen || !state.ActiveRoom.IsZero() {
		t.Errorf("state after logout = %+v", state)
	}
	if slices.Contains(transport.callLog(), "mark_direct") {
		t.Error("m.direct written through a stopped transport")
	}
}

func TestStartDirectMessageFailureKeepsDialog(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		createErr error
		wantCall  bool
	}{
		{"server rejects", "@bob:example.org", errBoom, true},
		{"unparseable recipient", "@", nil, false},
		{"empty recipient", "", nil, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, nil)
			transport := connectWithRooms(t, h)
			transport.createErr = test.createErr
			h.controller.OpenDirectMessageDialog()

			if err := h.controller.StartDirectMessage(context.Background(), test.recipient); err == nil {
				t.Fatal("StartDirectMessage succeeded")
			}
			state := h.controller.Snapshot()
			if !state.DMDialogOpen || state.DMError == "" || state.CreatingDM {
				t.Errorf("dialog %v error %q creating %v", state.DMDialogOpen, state.DMError, state.CreatingDM)
			}
			if state.ActiveRoom != roomB {
				t.Errorf("active room changed to %s", state.ActiveRoom)
			}
			if got := slices.Contains(transport.callLog(), "create_room"); got != test.wantCall {
				t.Errorf("create_room called = %v, want %v", got, test.wantCall)
			}
		})
	}
}

func TestCommandsWithoutConnection(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.controller.StartDirectMessage(context.Background(), "bob"); err != ErrNotConnected {
		t.Errorf("StartDirectMessage err = %v, want ErrNotConnected", err)
	}
	if h.controller.Snapshot().DMError == "" {
		t.Error("DMError not set")
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.controller.Login(context.Background(), " example.org ", "alice", testPassword(t, "hunter2")); err != nil {
		t.Fatalf("Login: %v", err)
	}
	stored := h.store.Load()
	if stored == nil || stored.ServerURL != "https://example.org" || stored.UserID != alice || stored.AccessToken != "token-alice" {
		t.Fatalf("stored session = %+v", stored)
	}
	state := h.controller.Snapshot()
	if !state.HasSession || state.LoggingIn || state.LoginError != "" || state.UserID != alice {
		t.Errorf("state = %+v", state)
	}
	if h.dialer.last() == nil {
		t.Error("Login did not connect")
	}
}

func TestLoginFailure(t *testing.T) {
	h := newHarness(t, nil)
	err := h.controller.Login(context.Background(), "example.org", "alice", testPassword(t, "wrong"))
	if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Fatalf("err = %v, want M_FORBIDDEN", err)
	}
	state := h.controller.Snapshot()
	if state.HasSession || state.LoggingIn || !strings.Contains(state.LoginError, "Invalid password") {
		t.Errorf("state = %+v", state)
	}
	if h.store.Load() != nil || h.dialer.last() != nil {
		t.Error("failed login persisted or connected")
	}
}

func TestLoginConnectFailureDiscardsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.dialErr = errBoom

	err := h.controller.Login(context.Background(), "example.org", "alice", testPassword(t, "hunter2"))
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want the dial failure", err)
	}
	state := h.controller.Snapshot()
	if state.HasSession || state.LoggingIn || state.Connection != ConnectionDisconnected || state.LoginError == "" {
		t.Errorf("state = %+v, want logged out with a login error", state)
	}
	if h.store.Load() != nil {
		t.Error("session persisted after the connection failed")
	}
	if len(h.dialer.discarded) != 1 {
		t.Errorf("discarded = %d sessions, want 1", len(h.dialer.discarded))
	}
}

func TestLoginRequiresHomeserver(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.controller.Login(context.Background(), "  ", "alice", testPassword(t, "hunter2")); err == nil {
		t.Fatal("Login succeeded without a homeserver")
	}
	if h.dialer.logins != 0 {
		t.Error("dialer called without a homeserver")
	}
}

func TestLogoutResetsEverything(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	transport.logoutErr = errBoom
	h.controller.OnComposerChange("unsent")
	h.controller.FilterRooms("al")
	h.controller.OpenDirectMessageDialog()

	h.controller.Logout(context.Background())
	h.settle()

	if !transport.loggedOut {
		t.Error("server logout not attempted")
	}
	state := h.controller.Snapshot()
	if state.HasSession || len(state.Rooms) != 0 || !state.ActiveRoom.IsZero() || len(state.Timeline) != 0 ||
		state.Composer != "" || state.RoomFilter != "" || state.DMDialogOpen || state.Connection != ConnectionDisconnected {
		t.Errorf("state after logout = %+v", state)
	}
	if h.store.Load() != nil {
		t.Error("persisted session survived logout")
	}
	if len(h.dialer.discarded) != 1 {
		t.Error("sync cache not discarded")
	}
	if transport.subscriberCount() != 0 || transport.stopped != 1 {
		t.Errorf("transport subscribers=%d stopped=%d", transport.subscriberCount(), transport.stopped)
	}
}

func TestForcedLogoutOnUnknownToken(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	transport.emit(messaging.Notification{
		Kind:      messaging.SyncStateChanged,
		SyncState: messaging.SyncStateError,
		Err:       &messaging.MatrixError{Code: messaging.ErrCodeUnknownToken, Message: "Token revoked", StatusCode: 401},
	})
	h.settle()

	state := h.controller.Snapshot()
	if state.HasSession || !strings.Contains(state.LoginError, "session expired") {
		t.Errorf("state = %+v", state)
	}
	if h.store.Load() != nil {
		t.Error("persisted session survived expiry")
	}
	if transport.loggedOut {
		t.Error("server logout attempted with a revoked token")
	}
}

func TestTransientSyncErrorKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	transport := connectWithRooms(t, h)
	transport.emit(messaging.Notification{Kind: messaging.SyncStateChanged, SyncState: messaging.SyncStateError, Err: errBoom})
	h.settle()
	state := h.controller.Snapshot()
	if !state.HasSession || state.SyncState != messaging.SyncStateError {
		t.Errorf("state = %+v", state)
	}
}

func TestReplacingSessionTearsDownFirst(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(t)

	stoppedBeforeDial := false
	h.dialer.prepare = func(*fakeTransport) {
		first.mu.Lock()
		stoppedBeforeDial = first.stopped == 1
		first.mu.Unlock()
	}
	if err := h.controller.Login(context.Background(), "example.org", "bob", testPassword(t, "hunter2")); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !stoppedBeforeDial {
		t.Error("new transport dialed before the old one stopped")
	}
	if first.subscriberCount() != 0 {
		t.Error("old transport still has subscribers")
	}

	// A straggling notification from the old transport is ignored.
	first.setRooms(summary(roomC, "stale", 1, ""))
	first.emit(messaging.Notification{Kind: messaging.RoomsChanged})
	if state := h.controller.Snapshot(); state.UserID != bob || len(state.Rooms) != 0 {
		t.Errorf("state = user %s rooms %v", state.UserID, roomIDs(state.Rooms))
	}
}

func TestChangesCoalesce(t *testing.T) {
	h := newHarness(t, nil)
	h.controller.FilterRooms("a")
	h.controller.FilterRooms("ab")
	h.controller.OpenDirectMessageDialog()

	select {
	case <-h.controller.Changes():
	default:
		t.Fatal("no change signalled")
	}
	select {
	case <-h.controller.Changes():
		t.Error("changes not coalesced")
	default:
	}
}
