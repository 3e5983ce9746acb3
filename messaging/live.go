// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/codec"
	"github.com/bureau-foundation/parley/lib/ref"
)

// SnapshotCache persists the LiveClient's state between runs.
// lib/synccache provides the production implementation.
type SnapshotCache interface {
	// Load returns the stored snapshot, or nil when there is none.
	Load() ([]byte, error)
	Save(snapshot []byte) error
	Clear() error
	Close() error
}

// LiveClientConfig configures a LiveClient.
type LiveClientConfig struct {
	// Session is required. The LiveClient takes ownership and closes
	// it on Stop.
	Session *Session

	// Clock drives sync retry backoff. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Cache, when set, is restored on Start and written on Stop.
	Cache SnapshotCache

	// MaxTimelineEvents bounds each room's retained timeline.
	MaxTimelineEvents int

	// PollTimeout is the /sync long-poll duration. Defaults to 30s.
	PollTimeout time.Duration

	// MaxBackoff caps the retry delay after sync failures. Defaults
	// to 30s.
	MaxBackoff time.Duration
}

// StartOptions configures the sync loop.
type StartOptions struct {
	// InitialHistory is the timeline limit per room. Defaults to 20.
	InitialHistory int

	// LazyLoadMembers asks the server to send only the membership
	// events of senders the client sees.
	LazyLoadMembers bool
}

const snapshotVersion = 1

type snapshot struct {
	Version   int         `cbor:"version"`
	UserID    ref.UserID  `cbor:"user_id"`
	NextBatch string      `cbor:"next_batch"`
	Rooms     []*room     `cbor:"rooms"`
	Direct    DirectRooms `cbor:"direct,omitempty"`
}

// LiveClient keeps a synchronized model of the account's joined rooms.
// Queries and commands are safe for concurrent use with the sync loop.
type LiveClient struct {
	session     *Session
	clock       clock.Clock
	logger      *slog.Logger
	cache       SnapshotCache
	pollTimeout time.Duration
	maxBackoff  time.Duration
	emitter     *emitter

	mu           sync.Mutex
	store        *roomStore
	nextBatch    string
	discardCache bool

	capabilitiesMu sync.Mutex
	capabilities   *Capabilities

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLiveClient creates a stopped LiveClient.
func NewLiveClient(config LiveClientConfig) (*LiveClient, error) {
	if config.Session == nil {
		return nil, errors.New("messaging: LiveClient requires a Session")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := config.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &LiveClient{
		session:     config.Session,
		clock:       clk,
		logger:      logger.With("user_id", config.Session.UserID()),
		cache:       config.Cache,
		pollTimeout: pollTimeout,
		maxBackoff:  maxBackoff,
		emitter:     newEmitter(),
		store:       newRoomStore(config.Session.UserID(), config.MaxTimelineEvents),
	}, nil
}

// UserID returns the local user.
func (c *LiveClient) UserID() ref.UserID { return c.session.UserID() }

// Subscribe registers handler for one notification kind. Handlers run
// on the sync goroutine and must not call Stop.
func (c *LiveClient) Subscribe(kind NotificationKind, handler func(Notification)) *Subscription {
	return c.emitter.add(kind, handler)
}

// NegotiateCapabilities queries /versions on first call and caches the
// outcome. A failed query still yields usable defaults, returned along
// with the error.
func (c *LiveClient) NegotiateCapabilities(ctx context.Context) (Capabilities, error) {
	c.capabilitiesMu.Lock()
	defer c.capabilitiesMu.Unlock()
	if c.capabilities != nil {
		return *c.capabilities, nil
	}

	negotiated := &Capabilities{Receipts: ReceiptAPIReceipt}
	c.capabilities = negotiated
	versions, err := c.session.client.ServerVersions(ctx)
	if err != nil {
		return *negotiated, err
	}
	negotiated.Versions = versions.Versions
	negotiated.Receipts = negotiateReceipts(versions.Versions)
	c.logger.Debug("negotiated capabilities",
		"versions", versions.Versions,
		"receipts", negotiated.Receipts.String(),
	)
	return *negotiated, nil
}

// Capabilities returns the negotiated capabilities, or defaults before
// negotiation.
func (c *LiveClient) Capabilities() Capabilities {
	c.capabilitiesMu.Lock()
	defer c.capabilitiesMu.Unlock()
	if c.capabilities == nil {
		return Capabilities{Receipts: ReceiptAPIReceipt}
	}
	return *c.capabilities
}

// InitSecureChannel checks that this device has published device keys
// and records the outcome in Capabilities().SecureChannel. The client
// performs no cryptography itself; an error only means encrypted
// rooms will not be readable from this device.
func (c *LiveClient) InitSecureChannel(ctx context.Context) error {
	err := c.querySecureChannel(ctx)
	c.capabilitiesMu.Lock()
	if c.capabilities == nil {
		c.capabilities = &Capabilities{Receipts: ReceiptAPIReceipt}
	}
	c.capabilities.SecureChannel = err == nil
	c.capabilitiesMu.Unlock()
	return err
}

func (c *LiveClient) querySecureChannel(ctx context.Context) error {
	self := c.session.UserID()
	response, err := c.session.QueryKeys(ctx, []ref.UserID{self})
	if err != nil {
		return err
	}
	devices := response.DeviceKeys[self.String()]
	if _, published := devices[c.session.DeviceID().String()]; !published {
		return fmt.Errorf("messaging: device %s has no published keys", c.session.DeviceID())
	}
	return nil
}

// Start restores the cached snapshot, if any, and launches the sync
// loop. It returns immediately; progress is reported through
// SyncStateChanged notifications. A LiveClient can be started once.
func (c *LiveClient) Start(ctx context.Context, options StartOptions) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.started {
		return errors.New("messaging: LiveClient already started")
	}
	if c.stopped {
		return errors.New("messaging: LiveClient is stopped")
	}
	filter, err := buildFilter(options)
	if err != nil {
		return err
	}
	loopContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopContext, filter)
	return nil
}

func buildFilter(options StartOptions) (string, error) {
	limit := options.InitialHistory
	if limit <= 0 {
		limit = 20
	}
	type timelineFilter struct {
		Limit int `json:"limit"`
	}
	type stateFilter struct {
		LazyLoadMembers bool `json:"lazy_load_members,omitempty"`
	}
	type roomFilter struct {
		Timeline timelineFilter `json:"timeline"`
		State    stateFilter    `json:"state"`
	}
	encoded, err := json.Marshal(struct {
		Room roomFilter `json:"room"`
	}{Room: roomFilter{
		Timeline: timelineFilter{Limit: limit},
		State:    stateFilter{LazyLoadMembers: options.LazyLoadMembers},
	}})
	if err != nil {
		return "", fmt.Errorf("messaging: encoding sync filter: %w", err)
	}
	return string(encoded), nil
}

// Stop ends the sync loop, waits for it to exit, writes the snapshot
// cache, and releases the session. Stop is idempotent and must not be
// called from a notification handler.
func (c *LiveClient) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	var errs []error
	if c.cache != nil {
		if err := c.persistSnapshot(); err != nil {
			errs = append(errs, err)
		}
		if err := c.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.session.Close(); err != nil {
		errs = append(errs, err)
	}
	c.emitter.emit([]Notification{{Kind: SyncStateChanged, SyncState: SyncStateStopped}})
	return errors.Join(errs...)
}

func (c *LiveClient) run(ctx context.Context, filter string) {
	defer close(c.done)

	since := ""
	if c.restoreSnapshot() {
		c.mu.Lock()
		since = c.nextBatch
		c.mu.Unlock()
		c.emitter.emit([]Notification{{Kind: RoomsChanged}})
	}

	state := SyncStateStopped
	prepared := false
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		options := SyncOptions{Since: since, Filter: filter}
		if since != "" {
			options.Timeout = int(c.pollTimeout.Milliseconds())
			options.SetTimeout = true
		}
		response, err := c.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			state = SyncStateError
			c.emitter.emit([]Notification{{Kind: SyncStateChanged, SyncState: SyncStateError, Err: err}})
			if IsAuthFailure(err) {
				c.logger.Warn("access token rejected, sync stopped", "error", err)
				return
			}
			c.logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = time.Second

		c.mu.Lock()
		notifications := c.store.apply(response, since == "")
		c.nextBatch = response.NextBatch
		c.mu.Unlock()
		since = response.NextBatch

		switch {
		case !prepared:
			prepared = true
			state = SyncStatePrepared
			notifications = append(notifications, Notification{Kind: SyncStateChanged, SyncState: state})
		case state != SyncStateSyncing:
			state = SyncStateSyncing
			notifications = append(notifications, Notification{Kind: SyncStateChanged, SyncState: state})
		}
		c.emitter.emit(notifications)
	}
}

// restoreSnapshot loads the cache into the store. Unusable caches are
// cleared.
func (c *LiveClient) restoreSnapshot() bool {
	if c.cache == nil {
		return false
	}
	data, err := c.cache.Load()
	if err != nil {
		c.logger.Warn("discarding unreadable sync cache", "error", err)
		c.cache.Clear()
		return false
	}
	if data == nil {
		return false
	}
	var restored snapshot
	if err := codec.Unmarshal(data, &restored); err != nil || restored.Version != snapshotVersion ||
		restored.UserID != c.session.UserID() || restored.NextBatch == "" {
		c.logger.Warn("discarding incompatible sync cache", "error", err)
		c.cache.Clear()
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cached := range restored.Rooms {
		if cached == nil || cached.ID.IsZero() {
			continue
		}
		if cached.Members == nil {
			cached.Members = make(map[string]Member)
		}
		c.store.rooms[cached.ID] = cached
	}
	if restored.Direct != nil {
		c.store.direct = restored.Direct
	}
	c.nextBatch = restored.NextBatch
	c.logger.Info("restored sync cache", "rooms", len(restored.Rooms))
	return true
}

func (c *LiveClient) persistSnapshot() error {
	c.mu.Lock()
	discard := c.discardCache
	current := snapshot{
		Version:   snapshotVersion,
		UserID:    c.session.UserID(),
		NextBatch: c.nextBatch,
		Direct:    c.store.direct,
	}
	for _, roomID := range slices.SortedFunc(maps.Keys(c.store.rooms), compareRoomIDs) {
		current.Rooms = append(current.Rooms, c.store.rooms[roomID])
	}
	data, err := codec.Marshal(current)
	c.mu.Unlock()

	if discard {
		return c.cache.Clear()
	}
	if current.NextBatch == "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("messaging: encoding sync snapshot: %w", err)
	}
	return c.cache.Save(data)
}

// Rooms returns a summary of every joined room, ordered by room ID.
func (c *LiveClient) Rooms() []RoomSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summaries := make([]RoomSummary, 0, len(c.store.rooms))
	for _, roomID := range slices.SortedFunc(maps.Keys(c.store.rooms), compareRoomIDs) {
		summaries = append(summaries, c.store.summary(c.store.rooms[roomID]))
	}
	return summaries
}

// Room returns one room's summary.
func (c *LiveClient) Room(roomID ref.RoomID) (RoomSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.store.rooms[roomID]
	if !ok {
		return RoomSummary{}, false
	}
	return c.store.summary(current), true
}

// RoomEvents returns a copy of the room's retained timeline, oldest
// first. Unknown rooms yield nil.
func (c *LiveClient) RoomEvents(roomID ref.RoomID) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.store.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(current.Timeline)
}

// TypingMembers returns the users the server currently reports as
// typing in the room, including the local user.
func (c *LiveClient) TypingMembers(roomID ref.RoomID) []ref.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.store.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(current.Typing)
}

// MemberName returns the member's display name in the room, falling
// back to the localpart.
func (c *LiveClient) MemberName(roomID ref.RoomID, userID ref.UserID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.store.rooms[roomID]
	if !ok {
		return userID.Localpart()
	}
	return c.store.memberName(current, userID)
}

// SendMessage sends a message with the caller's transaction ID.
func (c *LiveClient) SendMessage(ctx context.Context, roomID ref.RoomID, transactionID string, content MessageContent) (ref.EventID, error) {
	return c.session.SendMessage(ctx, roomID, transactionID, content)
}

// SendTyping sets the local user's typing state.
func (c *LiveClient) SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	return c.session.SetTyping(ctx, roomID, typing, timeout)
}

// SendReceipt marks eventID read using the negotiated receipt API.
func (c *LiveClient) SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	if c.Capabilities().Receipts == ReceiptAPIReadMarkers {
		return c.session.SetReadMarkers(ctx, roomID, ReadMarkersRequest{FullyRead: eventID, Read: eventID})
	}
	return c.session.SendReadReceipt(ctx, roomID, eventID)
}

// CreateRoom creates a room.
func (c *LiveClient) CreateRoom(ctx context.Context, request CreateRoomRequest) (ref.RoomID, error) {
	return c.session.CreateRoom(ctx, request)
}

// MarkDirect records roomID as a direct chat with userID in the m.direct
// account data.
func (c *LiveClient) MarkDirect(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error {
	c.mu.Lock()
	updated := make(DirectRooms, len(c.store.direct)+1)
	for user, rooms := range c.store.direct {
		updated[user] = slices.Clone(rooms)
	}
	c.mu.Unlock()

	if slices.Contains(updated[userID.String()], roomID.String()) {
		return nil
	}
	updated[userID.String()] = append(updated[userID.String()], roomID.String())
	if err := c.session.SetAccountData(ctx, ref.EventTypeDirect, updated); err != nil {
		return err
	}

	c.mu.Lock()
	c.store.direct = updated
	c.mu.Unlock()
	return nil
}

// Logout invalidates the access token on the server and ensures the
// snapshot cache is deleted rather than saved on Stop. The cache is
// discarded even when the server call fails.
func (c *LiveClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.discardCache = true
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.Clear(); err != nil {
			c.logger.Warn("clearing sync cache failed", "error", err)
		}
	}
	return c.session.Logout(ctx)
}
