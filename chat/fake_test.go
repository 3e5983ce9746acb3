// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/messaging"
)

var (
	alice     = ref.MustParseUserID("@alice:example.org")
	bob       = ref.MustParseUserID("@bob:example.org")
	carol     = ref.MustParseUserID("@carol:example.org")
	roomA     = ref.MustParseRoomID("!a:example.org")
	roomB     = ref.MustParseRoomID("!b:example.org")
	roomC     = ref.MustParseRoomID("!c:example.org")
	epoch     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	aliceAuth = sessionstore.Session{
		ServerURL:   "https://example.org",
		AccessToken: "token-alice",
		UserID:      alice,
		DeviceID:    ref.NewDeviceID("ALICEDEVICE"),
	}
)

type typingCall struct {
	RoomID  ref.RoomID
	Typing  bool
	Timeout time.Duration
}

type sentMessage struct {
	RoomID        ref.RoomID
	TransactionID string
	Content       messaging.MessageContent
}

type receiptCall struct {
	RoomID  ref.RoomID
	EventID ref.EventID
}

// fakeTransport is a scripted in-memory Transport. Tests mutate rooms,
// events, and typing directly, then call emit to deliver a
// notification as the sync goroutine would.
type fakeTransport struct {
	mu sync.Mutex

	self         ref.UserID
	capabilities messaging.Capabilities
	secureErr    error
	startErr     error
	stopErr      error
	stopPanic    bool
	sendErr      error
	createErr    error
	createdRoom  ref.RoomID
	logoutErr    error

	// createGate, when set, holds CreateRoom until it is closed.
	// createEntered is closed when CreateRoom starts waiting.
	createGate    chan struct{}
	createEntered chan struct{}

	rooms  []messaging.RoomSummary
	events map[ref.RoomID][]messaging.Event
	typing map[ref.RoomID][]ref.UserID
	names  map[ref.UserID]string

	nextSubscription int
	handlers         map[messaging.NotificationKind]map[int]func(messaging.Notification)

	// calls records every outbound call by name, in order.
	calls       []string
	roomQueries int
	started     *messaging.StartOptions
	stopped     int
	typingSent  []typingCall
	messages    []sentMessage
	receipts    []receiptCall
	created     []messaging.CreateRoomRequest
	direct      map[ref.UserID][]ref.RoomID
	loggedOut   bool
}

func newFakeTransport(self ref.UserID) *fakeTransport {
	return &fakeTransport{
		self:        self,
		events:      make(map[ref.RoomID][]messaging.Event),
		typing:      make(map[ref.RoomID][]ref.UserID),
		names:       make(map[ref.UserID]string),
		handlers:    make(map[messaging.NotificationKind]map[int]func(messaging.Notification)),
		direct:      make(map[ref.UserID][]ref.RoomID),
		createdRoom: ref.MustParseRoomID("!dm:example.org"),
	}
}

func (f *fakeTransport) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeTransport) UserID() ref.UserID { return f.self }

func (f *fakeTransport) NegotiateCapabilities(context.Context) (messaging.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("negotiate")
	return f.capabilities, nil
}

func (f *fakeTransport) InitSecureChannel(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("secure_channel")
	return f.secureErr
}

func (f *fakeTransport) Start(_ context.Context, options messaging.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	f.started = &options
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	f.record("stop")
	f.stopped++
	stopPanic, stopErr := f.stopPanic, f.stopErr
	f.mu.Unlock()
	if stopPanic {
		panic("stop exploded")
	}
	return stopErr
}

func (f *fakeTransport) Subscribe(kind messaging.NotificationKind, handler func(messaging.Notification)) *messaging.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubscription++
	id := f.nextSubscription
	if f.handlers[kind] == nil {
		f.handlers[kind] = make(map[int]func(messaging.Notification))
	}
	f.handlers[kind][id] = handler
	return messaging.NewSubscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[kind], id)
	})
}

func (f *fakeTransport) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, handlers := range f.handlers {
		count += len(handlers)
	}
	return count
}

// emit delivers a notification to current subscribers on the calling
// goroutine, outside the fake's lock.
func (f *fakeTransport) emit(notification messaging.Notification) {
	f.mu.Lock()
	var handlers []func(messaging.Notification)
	for _, id := range slices.Sorted(maps.Keys(f.handlers[notification.Kind])) {
		handlers = append(handlers, f.handlers[notification.Kind][id])
	}
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(notification)
	}
}

func (f *fakeTransport) Rooms() []messaging.RoomSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomQueries++
	return slices.Clone(f.rooms)
}

func (f *fakeTransport) roomQueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomQueries
}

func (f *fakeTransport) RoomEvents(roomID ref.RoomID) []messaging.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events[roomID])
}

func (f *fakeTransport) TypingMembers(roomID ref.RoomID) []ref.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.typing[roomID])
}

func (f *fakeTransport) MemberName(_ ref.RoomID, userID ref.UserID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.names[userID]; ok {
		return name
	}
	return userID.Localpart()
}

func (f *fakeTransport) SendMessage(_ context.Context, roomID ref.RoomID, transactionID string, content messaging.MessageContent) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("send_message")
	if f.sendErr != nil {
		return ref.EventID{}, f.sendErr
	}
	f.messages = append(f.messages, sentMessage{RoomID: roomID, TransactionID: transactionID, Content: content})
	return ref.MustParseEventID("$sent" + transactionID), nil
}

func (f *fakeTransport) SendTyping(_ context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if typing {
		f.record("typing_start")
	} else {
		f.record("typing_stop")
	}
	f.typingSent = append(f.typingSent, typingCall{RoomID: roomID, Typing: typing, Timeout: timeout})
	return nil
}

func (f *fakeTransport) typingCalls() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.typingSent)
}

func (f *fakeTransport) SendReceipt(_ context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("receipt")
	f.receipts = append(f.receipts, receiptCall{RoomID: roomID, EventID: eventID})
	return nil
}

func (f *fakeTransport) receiptCalls() []receiptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.receipts)
}

func (f *fakeTransport) CreateRoom(_ context.Context, request messaging.CreateRoomRequest) (ref.RoomID, error) {
	if f.createGate != nil {
		close(f.createEntered)
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_room")
	if f.createErr != nil {
		return ref.RoomID{}, f.createErr
	}
	f.created = append(f.created, request)
	return f.createdRoom, nil
}

func (f *fakeTransport) MarkDirect(_ context.Context, userID ref.UserID, roomID ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped > 0 {
		return messaging.ErrSessionClosed
	}
	f.record("mark_direct")
	f.direct[userID] = append(f.direct[userID], roomID)
	return nil
}

func (f *fakeTransport) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logout")
	f.loggedOut = true
	return f.logoutErr
}

// setRooms replaces the room set the transport reports.
func (f *fakeTransport) setRooms(rooms ...messaging.RoomSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = rooms
}

// addEvent appends to a room's live history and returns the event.
func (f *fakeTransport) addEvent(roomID ref.RoomID, id string, sender ref.UserID, ts int64, body string) messaging.Event {
	event := messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           ref.EventTypeRoomMessage,
		Sender:         sender,
		OriginServerTS: ts,
		Content:        map[string]any{"msgtype": "m.text", "body": body},
	}
	f.mu.Lock()
	f.events[roomID] = append(f.events[roomID], event)
	f.mu.Unlock()
	return event
}

func (f *fakeTransport) setTyping(roomID ref.RoomID, users ...ref.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing[roomID] = users
}

// fakeDialer hands out fakeTransports.
type fakeDialer struct {
	mu         sync.Mutex
	loginErr   error
	dialErr    error
	transports []*fakeTransport
	prepare    func(*fakeTransport)
	logins     int
	discarded  []sessionstore.Session
}

func (d *fakeDialer) Login(_ context.Context, homeserver, username string, password *secret.Buffer) (*sessionstore.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins++
	if d.loginErr != nil {
		return nil, d.loginErr
	}
	if password.String() != "hunter2" {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "Invalid password", StatusCode: 403}
	}
	userID, err := ref.ParseUserID("@" + username + ":example.org")
	if err != nil {
		return nil, err
	}
	return &sessionstore.Session{
		ServerURL:   homeserver,
		AccessToken: "token-" + username,
		UserID:      userID,
		DeviceID:    ref.NewDeviceID("DEVICE"),
	}, nil
}

func (d *fakeDialer) Dial(_ context.Context, session sessionstore.Session) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	transport := newFakeTransport(session.UserID)
	if d.prepare != nil {
		d.prepare(transport)
	}
	d.transports = append(d.transports, transport)
	return transport, nil
}

func (d *fakeDialer) Discard(session sessionstore.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discarded = append(d.discarded, session)
	return nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// memoryStore is an in-memory sessionstore.Store.
type memoryStore struct {
	mu      sync.Mutex
	session *sessionstore.Session
	saves   int
	clears  int
}

func (s *memoryStore) Load() *sessionstore.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	copied := *s.session
	return &copied
}

func (s *memoryStore) Save(session *sessionstore.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.session = &copied
	s.saves++
	return nil
}

func (s *memoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.clears++
	return nil
}

// harness bundles a Controller with its fakes.
type harness struct {
	controller *Controller
	dialer     *fakeDialer
	store      *memoryStore
	clock      *clock.FakeClock
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{},
		store:  &memoryStore{},
		clock:  clock.Fake(epoch),
	}
	transactions := 0
	config := Config{
		Dialer:   h.dialer,
		Store:    h.store,
		Clock:    h.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Platform: PlatformWide,
		NewTransactionID: func() (string, error) {
			transactions++
			return "txn" + strconv.Itoa(transactions), nil
		},
	}
	if configure != nil {
		configure(&config)
	}
	controller, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.controller = controller
	t.Cleanup(func() {
		controller.Close()
		controller.background.Wait()
	})
	return h
}

// settle waits for background requests (typing, receipts) to finish.
func (h *harness) settle() { h.controller.background.Wait() }

// connect resumes from a stored session for alice and returns the
// resulting transport, with no sync notifications delivered yet.
func (h *harness) connect(t *testing.T) *fakeTransport {
	t.Helper()
	h.store.Save(&aliceAuth)
	if err := h.controller.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	transport := h.dialer.last()
	if transport == nil {
		t.Fatal("Resume did not dial")
	}
	return transport
}

func prepared(transport *fakeTransport) {
	transport.emit(messaging.Notification{Kind: messaging.SyncStateChanged, SyncState: messaging.SyncStatePrepared})
}

func appended(transport *fakeTransport, roomID ref.RoomID, event messaging.Event, historical bool) {
	transport.emit(messaging.Notification{
		Kind:       messaging.TimelineAppended,
		RoomID:     roomID,
		Event:      event,
		Historical: historical,
	})
}

func summary(roomID ref.RoomID, name string, lastActivity int64, preview string) messaging.RoomSummary {
	return messaging.RoomSummary{ID: roomID, DisplayName: name, LastActivity: lastActivity, LastMessagePreview: preview}
}

func roomIDs(rooms []Room) []ref.RoomID {
	ids := make([]ref.RoomID, len(rooms))
	for index, room := range rooms {
		ids[index] = room.ID
	}
	return ids
}

func eventIDs(events []TimelineEvent) []string {
	ids := make([]string, len(events))
	for index, event := range events {
		ids[index] = event.ID.String()
	}
	return ids
}

var errBoom = errors.New("boom")
