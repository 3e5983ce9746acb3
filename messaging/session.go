// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
)

// Session is an authenticated handle: a Client plus an access token
// held in protected memory. Methods are safe for concurrent use. Close
// releases the token; requests made after it fail with
// ErrSessionClosed.
type Session struct {
	client   *Client
	userID   ref.UserID
	deviceID ref.DeviceID

	// mu guards the token against Close. It is not held across the
	// request itself, so Close never waits for the network.
	mu          sync.RWMutex
	accessToken *secret.Buffer
	closed      bool
}

// UserID returns the session's user.
func (s *Session) UserID() ref.UserID { return s.userID }

// DeviceID returns the device the token is bound to.
func (s *Session) DeviceID() ref.DeviceID { return s.deviceID }

// Homeserver returns the homeserver base URL.
func (s *Session) Homeserver() string { return s.client.baseURL }

// Client returns the unauthenticated client the session was built on.
func (s *Session) Client() *Client { return s.client }

// AccessToken returns a heap copy of the token, for persisting the
// session record. It is empty after Close.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ""
	}
	return s.accessToken.String()
}

// AccessTokenBuffer returns the protected token. It is owned by the
// Session and invalid after Close.
func (s *Session) AccessTokenBuffer() *secret.Buffer { return s.accessToken }

// Close releases the access token. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.accessToken.Close()
}

// do sends an authenticated request.
func (s *Session) do(ctx context.Context, method, path string, requestBody any, query ...url.Values) ([]byte, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrSessionClosed
	}
	accessToken := s.accessToken.String()
	s.mu.RUnlock()
	return s.client.doRequest(ctx, method, path, accessToken, requestBody, query...)
}

// WhoAmI validates the token and returns the user it belongs to.
func (s *Session) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: whoami failed: %w", err)
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return &response, nil
}

// Logout invalidates the access token on the server.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/logout", struct{}{}); err != nil {
		return fmt.Errorf("messaging: logout failed: %w", err)
	}
	return nil
}

// CreateRoom creates a room and returns its ID.
func (s *Session) CreateRoom(ctx context.Context, request CreateRoomRequest) (ref.RoomID, error) {
	body, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", request)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: create room failed: %w", err)
	}
	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse create room response: %w", err)
	}
	if response.RoomID.IsZero() {
		return ref.RoomID{}, fmt.Errorf("messaging: create room response has no room_id")
	}
	return response.RoomID, nil
}

// SendEvent sends a timeline event. The transaction ID makes the PUT
// idempotent: retrying with the same ID never produces a duplicate.
func (s *Session) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error) {
	if transactionID == "" {
		return ref.EventID{}, fmt.Errorf("messaging: transaction ID is required")
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(transactionID),
	)
	body, err := s.do(ctx, http.MethodPut, path, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %s failed: %w", roomID, err)
	}
	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendMessage sends an m.room.message event.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, transactionID string, content MessageContent) (ref.EventID, error) {
	return s.SendEvent(ctx, roomID, ref.EventTypeRoomMessage, transactionID, content)
}

// SetTyping starts or stops the local user's typing notification. The
// timeout bounds how long the server shows the user as typing without
// a refresh; it is ignored when typing is false.
func (s *Session) SetTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(s.userID.String()),
	)
	request := TypingRequest{Typing: typing}
	if typing {
		request.Timeout = timeout.Milliseconds()
	}
	if _, err := s.do(ctx, http.MethodPut, path, request); err != nil {
		return fmt.Errorf("messaging: set typing in %s failed: %w", roomID, err)
	}
	return nil
}

// SendReadReceipt posts an m.read receipt for an event.
func (s *Session) SendReadReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.read/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventID.String()),
	)
	if _, err := s.do(ctx, http.MethodPost, path, struct{}{}); err != nil {
		return fmt.Errorf("messaging: read receipt in %s failed: %w", roomID, err)
	}
	return nil
}

// SetReadMarkers moves the fully-read marker and the read receipt in
// one request.
func (s *Session) SetReadMarkers(ctx context.Context, roomID ref.RoomID, request ReadMarkersRequest) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/read_markers", url.PathEscape(roomID.String()))
	if _, err := s.do(ctx, http.MethodPost, path, request); err != nil {
		return fmt.Errorf("messaging: read markers in %s failed: %w", roomID, err)
	}
	return nil
}

// GetAccountData fetches a global account data event's content. A
// missing event is a *MatrixError with code M_NOT_FOUND.
func (s *Session) GetAccountData(ctx context.Context, eventType ref.EventType) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/account_data/%s",
		url.PathEscape(s.userID.String()),
		url.PathEscape(eventType.String()),
	)
	body, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get account data %s failed: %w", eventType, err)
	}
	return json.RawMessage(body), nil
}

// SetAccountData replaces a global account data event's content.
func (s *Session) SetAccountData(ctx context.Context, eventType ref.EventType, content any) error {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/account_data/%s",
		url.PathEscape(s.userID.String()),
		url.PathEscape(eventType.String()),
	)
	if _, err := s.do(ctx, http.MethodPut, path, content); err != nil {
		return fmt.Errorf("messaging: set account data %s failed: %w", eventType, err)
	}
	return nil
}

// QueryKeys fetches the device keys published for the given users.
func (s *Session) QueryKeys(ctx context.Context, users []ref.UserID) (*KeysQueryResponse, error) {
	request := KeysQueryRequest{DeviceKeys: make(map[string][]string, len(users)), Timeout: 10000}
	for _, user := range users {
		request.DeviceKeys[user.String()] = []string{}
	}
	body, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/keys/query", request)
	if err != nil {
		return nil, fmt.Errorf("messaging: keys query failed: %w", err)
	}
	var response KeysQueryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse keys query response: %w", err)
	}
	return &response, nil
}

// Sync performs one /sync request. Leave Since empty for an initial
// sync; set SetTimeout to long-poll.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}
