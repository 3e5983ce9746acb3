// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/parley/chat"
	"github.com/bureau-foundation/parley/messaging"
)

// Room list width bounds in the wide layout.
const (
	roomListMinWidth = 20
	roomListMaxWidth = 36
)

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return ""
	}
	if !model.state.HasSession {
		return model.renderLogin()
	}

	bodyHeight := max(model.height-2, 1)
	var body string
	switch {
	case model.state.DMDialogOpen:
		body = lipgloss.Place(model.width, bodyHeight, lipgloss.Center, lipgloss.Center, model.renderDialog())
	case model.state.Platform == chat.PlatformWide:
		listWidth := model.roomListWidth()
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			model.renderRoomList(listWidth, bodyHeight),
			model.renderDivider(bodyHeight),
			model.renderRoom(model.width-listWidth-1, bodyHeight),
		)
	case model.state.ActiveRoom.IsZero():
		body = model.renderRoomList(model.width, bodyHeight)
	default:
		body = model.renderRoom(model.width, bodyHeight)
	}
	return lipgloss.JoinVertical(lipgloss.Left, model.renderHeader(), body, model.renderStatus())
}

func (model Model) roomListWidth() int {
	return min(max(model.width*3/10, roomListMinWidth), roomListMaxWidth, max(model.width-1, 1))
}

// timelineHeight is the number of timeline rows in the room pane.
func (model Model) timelineHeight() int {
	// Title, typing line, composer.
	chrome := 3
	if model.state.SendError != "" {
		chrome++
	}
	return max(model.height-2-chrome, 1)
}

func (model Model) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground).Render("parley")
	user := lipgloss.NewStyle().Foreground(model.theme.NormalText).Render(model.state.UserID.String())

	indicator := lipgloss.NewStyle().Foreground(model.theme.OfflineForeground)
	label := model.state.Connection.String()
	switch {
	case model.state.Connection == chat.ConnectionSynced && model.state.SyncState == messaging.SyncStateError:
		label = "reconnecting"
	case model.state.Connection == chat.ConnectionSynced:
		indicator = indicator.Foreground(model.theme.OnlineForeground)
	}
	line := fmt.Sprintf("%s  %s  %s", title, user, indicator.Render("● "+label))
	return ansi.Truncate(line, model.width, "…")
}

func (model Model) renderStatus() string {
	if model.status != "" {
		color := model.theme.WarnForeground
		if model.statusLevel >= slog.LevelError {
			color = model.theme.ErrorForeground
		}
		return ansi.Truncate(lipgloss.NewStyle().Foreground(color).Render(model.status), model.width, "…")
	}
	return ansi.Truncate(lipgloss.NewStyle().Foreground(model.theme.HelpText).Render(model.helpText()), model.width, "…")
}

func (model Model) helpText() string {
	switch model.focus {
	case FocusFilter:
		return "type to filter · Enter keep · Esc clear"
	case FocusComposer:
		return "Enter send · Tab rooms · PgUp/PgDn scroll · C-n new DM · C-x log out · C-c quit"
	default:
		return "j/k move · Enter open · / filter · Tab composer · C-n new DM · C-x log out · C-c quit"
	}
}

func (model Model) renderDivider(height int) string {
	style := lipgloss.NewStyle().Foreground(model.theme.BorderColor)
	lines := make([]string, height)
	for index := range lines {
		lines[index] = style.Render("│")
	}
	return strings.Join(lines, "\n")
}

func (model Model) renderRoomList(width, height int) string {
	var lines []string
	if model.focus == FocusFilter || model.state.RoomFilter != "" {
		lines = append(lines, ansi.Truncate(model.filter.View(), width, "…"))
	}

	rooms := model.state.Rooms
	if len(rooms) == 0 {
		empty := "No rooms yet"
		if model.state.RoomFilter != "" {
			empty = "No matching rooms"
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(empty))
	}

	visible := max(height-len(lines), 1)
	offset := max(model.cursor-visible+1, 0)
	for index := offset; index < len(rooms) && index < offset+visible; index++ {
		lines = append(lines, model.renderRoomRow(rooms[index], index, width))
	}
	return lipgloss.NewStyle().Width(width).Height(height).MaxHeight(height).Render(strings.Join(lines, "\n"))
}

func (model Model) renderRoomRow(room chat.Room, index, width int) string {
	marker := "  "
	style := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	if room.ID == model.state.ActiveRoom {
		marker = "● "
		style = style.Foreground(model.theme.ActiveForeground)
	}
	if index == model.cursor && model.focus == FocusRooms {
		style = style.Background(model.theme.SelectedBackground).Foreground(model.theme.SelectedForeground)
	}
	if room.IsDirect {
		marker += "@ "
	}
	name := style.Render(room.DisplayName)
	if start, end, ok := chat.MatchSpan(room.DisplayName, model.state.RoomFilter); ok {
		runes := []rune(room.DisplayName)
		match := style.Foreground(model.theme.MatchForeground).Bold(true)
		name = style.Render(string(runes[:start])) + match.Render(string(runes[start:end])) + style.Render(string(runes[end:]))
	}
	return ansi.Truncate(style.Render(marker)+name, width, "…")
}

func (model Model) renderRoom(width, height int) string {
	if model.state.ActiveRoom.IsZero() {
		hint := lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("Select a room")
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, hint)
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground).
		Render(ansi.Truncate(model.state.ActiveRoomName, width, "…"))

	lines := []string{title}
	lines = append(lines, model.visibleTimeline(width)...)
	lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.FaintText).Italic(true).
		Render(ansi.Truncate(typingLine(model.state.Typing), width, "…")))
	if model.state.SendError != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.ErrorForeground).
			Render(ansi.Truncate("send failed: "+model.state.SendError, width, "…")))
	}
	composer := model.composer.View()
	if model.state.Sending {
		composer += lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("  sending…")
	}
	lines = append(lines, ansi.Truncate(composer, width, "…"))
	return lipgloss.NewStyle().Width(width).Height(height).MaxHeight(height).Render(strings.Join(lines, "\n"))
}

// visibleTimeline renders the timeline and returns the window of
// lines selected by scrollBack, padded at the top to fill the pane.
func (model Model) visibleTimeline(width int) []string {
	var lines []string
	for _, event := range model.state.Timeline {
		lines = append(lines, model.renderEvent(event, width)...)
	}

	height := model.timelineHeight()
	end := max(len(lines)-model.scrollBack, min(height, len(lines)))
	start := max(end-height, 0)
	window := lines[start:end]
	if len(window) < height {
		padding := make([]string, height-len(window))
		window = append(padding, window...)
	}
	return window
}

func (model Model) renderEvent(event chat.TimelineEvent, width int) []string {
	stamp := time.UnixMilli(event.Timestamp).Format("15:04")
	sender := lipgloss.NewStyle().Bold(true).Foreground(model.theme.SenderColor(event.Sender.String())).Render(event.SenderName)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)

	if event.MsgType == "m.emote" {
		return model.body.Render(faint.Render(stamp)+" * "+event.SenderName+" "+event.Body, width)
	}
	lines := []string{ansi.Truncate(faint.Render(stamp)+" "+sender, width, "…")}
	for _, line := range model.body.Render(event.Body, max(width-2, 1)) {
		lines = append(lines, "  "+line)
	}
	return lines
}

// typingLine phrases the typing set: "", "a is typing…", "a and b are
// typing…", or "a, b and c are typing…".
func typingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1] + " are typing…"
	}
}

func (model Model) renderLogin() string {
	labels := [loginFieldCount]string{"Homeserver", "Username", "Password"}
	label := lipgloss.NewStyle().Width(12).Foreground(model.theme.FaintText)
	focused := label.Foreground(model.theme.HeaderForeground).Bold(true)

	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground).Render("Log in to Matrix"),
		"",
	}
	for index := range model.login {
		style := label
		if index == model.loginField {
			style = focused
		}
		lines = append(lines, style.Render(labels[index])+model.login[index].View())
	}
	lines = append(lines, "")
	switch {
	case model.state.LoggingIn:
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("Logging in…"))
	case model.state.LoginError != "":
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.ErrorForeground).Render(model.state.LoginError))
	default:
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.HelpText).Render("Tab next field · Enter log in · C-c quit"))
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(model.theme.DialogBorder).
		Padding(1, 2).
		Render(strings.Join(lines, "\n"))
	page := lipgloss.Place(model.width, max(model.height-1, 1), lipgloss.Center, lipgloss.Center, box)
	return lipgloss.JoinVertical(lipgloss.Left, page, model.renderStatusOnly())
}

// renderStatusOnly is the status line without help text.
func (model Model) renderStatusOnly() string {
	if model.status == "" {
		return ""
	}
	return model.renderStatus()
}

func (model Model) renderDialog() string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground).Render("Start a direct message"),
		"",
		model.recipient.View(),
		"",
	}
	switch {
	case model.state.CreatingDM:
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("Creating room…"))
	case model.state.DMError != "":
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.ErrorForeground).Render(model.state.DMError))
	default:
		lines = append(lines, lipgloss.NewStyle().Foreground(model.theme.HelpText).Render("Enter start · Esc cancel"))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(model.theme.DialogBorder).
		Padding(1, 2).
		Width(min(max(model.width-4, 20), 60)).
		Render(strings.Join(lines, "\n"))
}
