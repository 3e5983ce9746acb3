// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/parley/chat"
	"github.com/bureau-foundation/parley/lib/ref"
	"github.com/bureau-foundation/parley/lib/secret"
)

// WideThreshold is the terminal width, in columns, from which the
// automatic platform choice is wide.
const WideThreshold = 100

// PlatformForWidth picks the presentation context for a terminal
// width.
func PlatformForWidth(width int) chat.Platform {
	if width >= WideThreshold {
		return chat.PlatformWide
	}
	return chat.PlatformCompact
}

// Controller is the state and command surface the model drives.
// *chat.Controller implements it.
type Controller interface {
	chat.Dispatcher
	Snapshot() chat.State
	Changes() <-chan struct{}
	SetPlatform(platform chat.Platform)
}

var _ Controller = (*chat.Controller)(nil)

// Options configures a Model.
type Options struct {
	// Homeserver pre-fills the login form.
	Homeserver string

	// AutoPlatform re-derives the platform from the terminal width on
	// every resize.
	AutoPlatform bool

	// ColorProfile selects the code highlighting formatter. The zero
	// value (TrueColor) is replaced by termenv's detection in cmd.
	ColorProfile termenv.Profile

	// RequestTimeout bounds Login, Send, and direct-message creation.
	// Zero means no bound beyond the controller's own.
	RequestTimeout time.Duration
}

// FocusRegion identifies which element receives keystrokes.
type FocusRegion int

const (
	// FocusLogin routes keys to the login form.
	FocusLogin FocusRegion = iota
	// FocusRooms means navigation keys move the room list cursor.
	FocusRooms
	// FocusComposer routes keys to the message composer.
	FocusComposer
	// FocusFilter routes keys to the room filter input.
	FocusFilter
	// FocusDialog routes keys to the direct-message recipient input.
	FocusDialog
)

// Login form fields, in tab order.
const (
	fieldHomeserver = iota
	fieldUsername
	fieldPassword
	loginFieldCount
)

// Commands run off the update loop.
const (
	commandLogin  = "login"
	commandLogout = "logout"
	commandSend   = "send"
	commandDM     = "direct message"
)

// stateChangedMsg is delivered when the controller signals a change.
type stateChangedMsg struct{}

// commandResultMsg is delivered when a blocking command returns. Its
// error is already recorded in the controller state; text is the
// input the command consumed.
type commandResultMsg struct {
	command string
	text    string
	err     error
}

// Model is the top-level bubbletea model for the chat client.
type Model struct {
	controller Controller
	options    Options
	theme      Theme
	keys       KeyMap
	body       bodyRenderer

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// state is the latest controller snapshot.
	state chat.State

	focus      FocusRegion
	login      [loginFieldCount]textinput.Model
	loginField int
	composer   textinput.Model
	filter     textinput.Model
	recipient  textinput.Model

	// Room list cursor, an index into state.Rooms.
	cursor int

	// scrollBack is how many timeline lines the view is scrolled up
	// from the newest.
	scrollBack int

	// Status line: the latest warning from the log handler or a local
	// validation message. statusSequence matches fades to records.
	status         string
	statusLevel    slog.Level
	statusSequence int
}

// NewModel creates a Model over controller.
func NewModel(controller Controller, options Options) Model {
	model := Model{
		controller: controller,
		options:    options,
		theme:      DefaultTheme,
		keys:       DefaultKeyMap,
		body:       bodyRenderer{theme: DefaultTheme, profile: options.ColorProfile},
	}

	placeholders := [loginFieldCount]string{"matrix.org", "username", "password"}
	for index := range model.login {
		input := textinput.New()
		input.Prompt = ""
		input.Placeholder = placeholders[index]
		model.login[index] = input
	}
	model.login[fieldHomeserver].SetValue(options.Homeserver)
	model.login[fieldPassword].EchoMode = textinput.EchoPassword
	model.login[fieldPassword].EchoCharacter = '•'

	model.composer = textinput.New()
	model.composer.Prompt = "> "
	model.composer.Placeholder = "Message"

	model.filter = textinput.New()
	model.filter.Prompt = "/ "
	model.filter.Placeholder = "filter rooms"

	model.recipient = textinput.New()
	model.recipient.Prompt = ""
	model.recipient.Placeholder = "@user:server or user"

	model.state = controller.Snapshot()
	model.focus = -1
	model.setFocus(model.defaultFocus())
	if options.Homeserver != "" {
		model.loginField = fieldUsername
		model.setFocus(model.focus)
	}
	return model
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return tea.Batch(listenForChanges(model.controller.Changes()), textinput.Blink)
}

// listenForChanges blocks until the controller signals a change.
func listenForChanges(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return stateChangedMsg{}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		if model.options.AutoPlatform {
			model.controller.SetPlatform(PlatformForWidth(message.Width))
			model.refresh()
		}
		return model, nil

	case stateChangedMsg:
		model.refresh()
		return model, listenForChanges(model.controller.Changes())

	case commandResultMsg:
		model.refresh()
		if message.err == nil {
			switch message.command {
			case commandSend:
				// Keep anything typed while the send was in flight.
				if model.composer.Value() == message.text {
					model.composer.Reset()
				}
				model.scrollBack = 0
			case commandDM:
				model.recipient.Reset()
			}
		}
		return model, nil

	case logRecordMsg:
		model.statusSequence++
		model.status = message.Summary
		model.statusLevel = message.Level
		sequence := model.statusSequence
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{sequence: sequence}
		})

	case logRecordFadeMsg:
		if message.sequence == model.statusSequence {
			model.status = ""
		}
		return model, nil

	case tea.KeyMsg:
		if key.Matches(message, model.keys.Quit) {
			return model, tea.Quit
		}
		switch model.focus {
		case FocusLogin:
			return model.handleLoginKeys(message)
		case FocusDialog:
			return model.handleDialogKeys(message)
		case FocusFilter:
			return model.handleFilterKeys(message)
		case FocusComposer:
			return model.handleComposerKeys(message)
		default:
			return model.handleRoomKeys(message)
		}
	}

	// Cursor blink and other input-internal messages.
	var cmd tea.Cmd
	switch model.focus {
	case FocusLogin:
		model.login[model.loginField], cmd = model.login[model.loginField].Update(message)
	case FocusComposer:
		model.composer, cmd = model.composer.Update(message)
	case FocusFilter:
		model.filter, cmd = model.filter.Update(message)
	case FocusDialog:
		model.recipient, cmd = model.recipient.Update(message)
	}
	return model, cmd
}

// refresh reloads the snapshot and reconciles focus and cursor with it.
func (model *Model) refresh() {
	previousRoom := model.state.ActiveRoom
	model.state = model.controller.Snapshot()

	switch {
	case !model.state.HasSession:
		model.setFocus(FocusLogin)
	case model.state.DMDialogOpen:
		model.setFocus(FocusDialog)
	case model.focus == FocusLogin || model.focus == FocusDialog:
		model.setFocus(model.defaultFocus())
	}

	if model.state.ActiveRoom != previousRoom {
		model.scrollBack = 0
		if index := model.roomIndex(model.state.ActiveRoom); index >= 0 {
			model.cursor = index
		}
	}
	model.cursor = min(model.cursor, len(model.state.Rooms)-1)
	model.cursor = max(model.cursor, 0)
}

func (model Model) defaultFocus() FocusRegion {
	switch {
	case !model.state.HasSession:
		return FocusLogin
	case model.state.DMDialogOpen:
		return FocusDialog
	case model.state.ActiveRoom.IsZero():
		return FocusRooms
	default:
		return FocusComposer
	}
}

// setFocus moves keyboard focus, blurring every other input.
func (model *Model) setFocus(region FocusRegion) {
	if model.focus == region && region != FocusLogin {
		return
	}
	model.focus = region
	for index := range model.login {
		model.login[index].Blur()
	}
	model.composer.Blur()
	model.filter.Blur()
	model.recipient.Blur()

	switch region {
	case FocusLogin:
		model.login[model.loginField].Focus()
	case FocusComposer:
		model.composer.Focus()
	case FocusFilter:
		model.filter.Focus()
	case FocusDialog:
		model.recipient.Focus()
	}
}

func (model Model) roomIndex(roomID ref.RoomID) int {
	for index, room := range model.state.Rooms {
		if room.ID == roomID {
			return index
		}
	}
	return -1
}

// run wraps a blocking controller call as a command.
func (model Model) run(command, text string, call func(ctx context.Context) error) tea.Cmd {
	timeout := model.options.RequestTimeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return commandResultMsg{command: command, text: text, err: call(ctx)}
	}
}

func (model *Model) setStatus(level slog.Level, text string) {
	model.statusSequence++
	model.status = text
	model.statusLevel = level
}

func (model Model) handleLoginKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.NextField):
		model.loginField = (model.loginField + 1) % loginFieldCount
		model.setFocus(FocusLogin)
		return model, nil

	case key.Matches(message, model.keys.PreviousField):
		model.loginField = (model.loginField + loginFieldCount - 1) % loginFieldCount
		model.setFocus(FocusLogin)
		return model, nil

	case message.Type == tea.KeyEnter:
		if model.loginField != fieldPassword {
			model.loginField++
			model.setFocus(FocusLogin)
			return model, nil
		}
		return model.submitLogin()
	}

	var cmd tea.Cmd
	model.login[model.loginField], cmd = model.login[model.loginField].Update(message)
	return model, cmd
}

func (model Model) submitLogin() (tea.Model, tea.Cmd) {
	if model.state.LoggingIn {
		return model, nil
	}
	if model.login[fieldPassword].Value() == "" {
		model.setStatus(slog.LevelWarn, "password is required")
		return model, nil
	}
	password, err := secret.NewFromString(model.login[fieldPassword].Value())
	model.login[fieldPassword].Reset()
	if err != nil {
		model.setStatus(slog.LevelError, err.Error())
		return model, nil
	}
	homeserver := model.login[fieldHomeserver].Value()
	username := model.login[fieldUsername].Value()
	controller := model.controller
	return model, model.run(commandLogin, username, func(ctx context.Context) error {
		defer password.Close()
		return controller.Login(ctx, homeserver, username, password)
	})
}

// handleGlobalKeys handles the bindings shared by the room list and
// the composer. It reports whether the key was consumed.
func (model *Model) handleGlobalKeys(message tea.KeyMsg) (bool, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.PageUp):
		model.scrollBack += max(model.timelineHeight()-1, 1)
		return true, nil

	case key.Matches(message, model.keys.PageDown):
		model.scrollBack = max(model.scrollBack-max(model.timelineHeight()-1, 1), 0)
		return true, nil

	case key.Matches(message, model.keys.DirectMessage):
		model.recipient.Reset()
		model.controller.OpenDirectMessageDialog()
		model.refresh()
		return true, nil

	case key.Matches(message, model.keys.Logout):
		controller := model.controller
		return true, model.run(commandLogout, "", func(ctx context.Context) error {
			controller.Logout(ctx)
			return nil
		})
	}
	return false, nil
}

func (model Model) handleRoomKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	if handled, cmd := model.handleGlobalKeys(message); handled {
		return model, cmd
	}
	switch {
	case key.Matches(message, model.keys.Up):
		model.cursor = max(model.cursor-1, 0)

	case key.Matches(message, model.keys.Down):
		model.cursor = min(model.cursor+1, max(len(model.state.Rooms)-1, 0))

	case key.Matches(message, model.keys.Open):
		if model.cursor < len(model.state.Rooms) {
			model.controller.SelectRoom(model.state.Rooms[model.cursor].ID)
			model.refresh()
			model.setFocus(FocusComposer)
		}

	case key.Matches(message, model.keys.FilterActivate):
		model.setFocus(FocusFilter)

	case key.Matches(message, model.keys.FocusToggle):
		if !model.state.ActiveRoom.IsZero() {
			model.setFocus(FocusComposer)
		}

	case key.Matches(message, model.keys.Back):
		if model.state.RoomFilter != "" {
			model.filter.Reset()
			model.controller.FilterRooms("")
			model.refresh()
		}
	}
	return model, nil
}

func (model Model) handleComposerKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	if handled, cmd := model.handleGlobalKeys(message); handled {
		return model, cmd
	}
	switch {
	case key.Matches(message, model.keys.Send):
		if model.state.Sending {
			return model, nil
		}
		text := model.composer.Value()
		controller := model.controller
		return model, model.run(commandSend, text, func(ctx context.Context) error {
			return controller.Send(ctx, text)
		})

	case key.Matches(message, model.keys.FocusToggle):
		model.setFocus(FocusRooms)
		return model, nil

	case key.Matches(message, model.keys.Back):
		if model.state.Platform == chat.PlatformCompact {
			model.controller.SelectRoom(ref.RoomID{})
			model.refresh()
		}
		model.setFocus(FocusRooms)
		return model, nil
	}

	before := model.composer.Value()
	var cmd tea.Cmd
	model.composer, cmd = model.composer.Update(message)
	if after := model.composer.Value(); after != before {
		model.controller.OnComposerChange(after)
	}
	return model, cmd
}

func (model Model) handleFilterKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch message.Type {
	case tea.KeyEsc:
		model.filter.Reset()
		model.controller.FilterRooms("")
		model.refresh()
		model.setFocus(FocusRooms)
		return model, nil
	case tea.KeyEnter:
		model.setFocus(FocusRooms)
		return model, nil
	}

	before := model.filter.Value()
	var cmd tea.Cmd
	model.filter, cmd = model.filter.Update(message)
	if after := model.filter.Value(); after != before {
		model.controller.FilterRooms(after)
		model.cursor = 0
		model.refresh()
	}
	return model, cmd
}

func (model Model) handleDialogKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch message.Type {
	case tea.KeyEsc:
		model.controller.CloseDirectMessageDialog()
		model.recipient.Reset()
		model.refresh()
		return model, nil
	case tea.KeyEnter:
		if model.state.CreatingDM {
			return model, nil
		}
		recipient := model.recipient.Value()
		controller := model.controller
		return model, model.run(commandDM, recipient, func(ctx context.Context) error {
			return controller.StartDirectMessage(ctx, recipient)
		})
	}

	var cmd tea.Cmd
	model.recipient, cmd = model.recipient.Update(message)
	return model, cmd
}
