// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/parley/lib/ref"
)

// DefaultMaxTimelineEvents is how many timeline events the LiveClient
// retains per room.
const DefaultMaxTimelineEvents = 500

// Member is one room member as seen through m.room.member state.
type Member struct {
	UserID      ref.UserID `cbor:"user_id"`
	DisplayName string     `cbor:"display_name,omitempty"`
	AvatarURL   string     `cbor:"avatar_url,omitempty"`
	Membership  string     `cbor:"membership"`
}

// RoomSummary is a read-only view of one joined room.
type RoomSummary struct {
	ID          ref.RoomID
	DisplayName string
	AvatarURL   string
	Encrypted   bool
	IsDirect    bool
	MemberCount int

	// LastActivity is the origin_server_ts (ms) of the newest retained
	// timeline event, or 0 when the room has none.
	LastActivity int64

	// LastMessagePreview is the body of the newest m.room.message, or
	// empty.
	LastMessagePreview string
}

// room is the per-room state kept by roomStore. Its exported fields are
// the sync snapshot encoding.
type room struct {
	ID             ref.RoomID        `cbor:"id"`
	Name           string            `cbor:"name,omitempty"`
	CanonicalAlias string            `cbor:"alias,omitempty"`
	AvatarURL      string            `cbor:"avatar_url,omitempty"`
	Encrypted      bool              `cbor:"encrypted,omitempty"`
	Heroes         []ref.UserID      `cbor:"heroes,omitempty"`
	JoinedCount    int               `cbor:"joined_count,omitempty"`
	Members        map[string]Member `cbor:"members,omitempty"`
	Timeline       []Event           `cbor:"timeline,omitempty"`

	// Typing is ephemeral and never cached.
	Typing []ref.UserID `cbor:"-"`
}

// roomStore is the LiveClient's model of the account. It is not safe
// for concurrent use; LiveClient guards it.
type roomStore struct {
	self        ref.UserID
	maxTimeline int
	rooms       map[ref.RoomID]*room
	direct      DirectRooms
}

func newRoomStore(self ref.UserID, maxTimeline int) *roomStore {
	if maxTimeline <= 0 {
		maxTimeline = DefaultMaxTimelineEvents
	}
	return &roomStore{
		self:        self,
		maxTimeline: maxTimeline,
		rooms:       make(map[ref.RoomID]*room),
		direct:      DirectRooms{},
	}
}

// apply folds one sync response into the store and returns the
// notifications it implies: RoomsChanged first (if anything about the
// room set changed), then timeline and typing notifications in server
// order, rooms in ID order.
func (s *roomStore) apply(response *SyncResponse, historical bool) []Notification {
	roomsChanged := false
	var notifications []Notification

	for _, event := range response.AccountData.Events {
		if event.Type == ref.EventTypeDirect {
			s.direct = parseDirectRooms(event.Content)
			roomsChanged = true
		}
	}

	for _, roomID := range slices.SortedFunc(maps.Keys(response.Rooms.Join), compareRoomIDs) {
		joined := response.Rooms.Join[roomID]
		current, existed := s.rooms[roomID]
		if !existed {
			current = &room{ID: roomID, Members: make(map[string]Member)}
			s.rooms[roomID] = current
			roomsChanged = true
		}

		if heroes := joined.Summary.Heroes; heroes != nil && !slices.Equal(heroes, current.Heroes) {
			current.Heroes = heroes
			roomsChanged = true
		}
		if count := joined.Summary.JoinedMemberCount; count != nil && *count != current.JoinedCount {
			current.JoinedCount = *count
			roomsChanged = true
		}

		for index := range joined.State.Events {
			if s.applyState(current, &joined.State.Events[index]) {
				roomsChanged = true
			}
		}

		for _, event := range joined.Timeline.Events {
			if event.IsState() && s.applyState(current, &event) {
				roomsChanged = true
			}
			s.appendTimeline(current, event)
			notifications = append(notifications, Notification{
				Kind:       TimelineAppended,
				RoomID:     roomID,
				Event:      event,
				Historical: historical,
			})
		}

		for _, event := range joined.Ephemeral.Events {
			if event.Type != ref.EventTypeTyping {
				continue
			}
			typing := parseTypingUsers(event.Content)
			if !slices.Equal(typing, current.Typing) {
				current.Typing = typing
				notifications = append(notifications, Notification{Kind: TypingChanged, RoomID: roomID})
			}
		}
	}

	for roomID := range response.Rooms.Leave {
		if _, known := s.rooms[roomID]; known {
			delete(s.rooms, roomID)
			roomsChanged = true
		}
	}

	if roomsChanged {
		notifications = append([]Notification{{Kind: RoomsChanged}}, notifications...)
	}
	return notifications
}

// applyState updates room state from one state event and reports
// whether anything visible changed.
func (s *roomStore) applyState(current *room, event *Event) bool {
	if event.StateKey == nil {
		return false
	}
	switch event.Type {
	case ref.EventTypeRoomName:
		return setIfChanged(&current.Name, event.ContentString("name"))
	case ref.EventTypeCanonicalAlias:
		return setIfChanged(&current.CanonicalAlias, event.ContentString("alias"))
	case ref.EventTypeRoomAvatar:
		return setIfChanged(&current.AvatarURL, event.ContentString("url"))
	case ref.EventTypeRoomEncryption:
		if event.ContentString("algorithm") != "" && !current.Encrypted {
			current.Encrypted = true
			return true
		}
		return false
	case ref.EventTypeRoomMember:
		userID, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			return false
		}
		membership := event.ContentString("membership")
		if membership != "join" && membership != "invite" {
			if _, present := current.Members[userID.String()]; present {
				delete(current.Members, userID.String())
				return true
			}
			return false
		}
		member := Member{
			UserID:      userID,
			DisplayName: event.ContentString("displayname"),
			AvatarURL:   event.ContentString("avatar_url"),
			Membership:  membership,
		}
		if current.Members[userID.String()] == member {
			return false
		}
		current.Members[userID.String()] = member
		return true
	}
	return false
}

func (s *roomStore) appendTimeline(current *room, event Event) {
	current.Timeline = append(current.Timeline, event)
	if overflow := len(current.Timeline) - s.maxTimeline; overflow > 0 {
		current.Timeline = slices.Delete(current.Timeline, 0, overflow)
	}
}

func (s *roomStore) summary(current *room) RoomSummary {
	summary := RoomSummary{
		ID:          current.ID,
		DisplayName: s.displayName(current),
		AvatarURL:   current.AvatarURL,
		Encrypted:   current.Encrypted,
		IsDirect:    s.isDirect(current.ID),
		MemberCount: current.JoinedCount,
	}
	if summary.MemberCount == 0 {
		for _, member := range current.Members {
			if member.Membership == "join" {
				summary.MemberCount++
			}
		}
	}
	for index := len(current.Timeline) - 1; index >= 0; index-- {
		event := &current.Timeline[index]
		if summary.LastActivity == 0 {
			summary.LastActivity = event.OriginServerTS
		}
		if event.Type == ref.EventTypeRoomMessage {
			if body := event.ContentString("body"); body != "" {
				summary.LastMessagePreview = body
				break
			}
		}
	}
	return summary
}

// displayName follows the Matrix room naming order: explicit name,
// canonical alias, then the other members (server-provided heroes, or
// the known membership), then the room ID.
func (s *roomStore) displayName(current *room) string {
	if current.Name != "" {
		return current.Name
	}
	if current.CanonicalAlias != "" {
		return current.CanonicalAlias
	}

	heroes := current.Heroes
	if len(heroes) == 0 {
		for _, member := range current.Members {
			heroes = append(heroes, member.UserID)
		}
		slices.SortFunc(heroes, compareUserIDs)
	}
	var names []string
	for _, hero := range heroes {
		if hero != s.self {
			names = append(names, s.memberName(current, hero))
		}
	}
	switch len(names) {
	case 0:
		return current.ID.String()
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return fmt.Sprintf("%s, %s and %d others", names[0], names[1], len(names)-2)
	}
}

func (s *roomStore) memberName(current *room, userID ref.UserID) string {
	if member, ok := current.Members[userID.String()]; ok && member.DisplayName != "" {
		return member.DisplayName
	}
	return userID.Localpart()
}

func (s *roomStore) isDirect(roomID ref.RoomID) bool {
	for _, rooms := range s.direct {
		if slices.Contains(rooms, roomID.String()) {
			return true
		}
	}
	return false
}

func setIfChanged(field *string, value string) bool {
	if *field == value {
		return false
	}
	*field = value
	return true
}

func parseTypingUsers(content map[string]any) []ref.UserID {
	raw, _ := content["user_ids"].([]any)
	users := make([]ref.UserID, 0, len(raw))
	for _, value := range raw {
		text, _ := value.(string)
		if userID, err := ref.ParseUserID(text); err == nil {
			users = append(users, userID)
		}
	}
	return users
}

func parseDirectRooms(content map[string]any) DirectRooms {
	direct := DirectRooms{}
	for user, value := range content {
		list, _ := value.([]any)
		for _, item := range list {
			if roomID, ok := item.(string); ok && strings.HasPrefix(roomID, "!") {
				direct[user] = append(direct[user], roomID)
			}
		}
	}
	return direct
}

func compareRoomIDs(a, b ref.RoomID) int { return cmp.Compare(a.String(), b.String()) }

func compareUserIDs(a, b ref.UserID) int { return cmp.Compare(a.String(), b.String()) }
