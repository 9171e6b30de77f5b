package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/tracker"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgLoggedIn MsgKind = iota
	MsgNotification
	MsgChanged
	MsgBrowserOpened
)

// loginResult is the payload of [MsgLoggedIn]
type loginResult struct {
	session models.Session
	err     error
}

// loggedInMsg is the constructor for [MsgLoggedIn]
func loggedInMsg(session models.Session, err error) Msg {
	return Msg{kind: MsgLoggedIn, data: loginResult{session, err}}
}

// notificationMsg is the constructor for [MsgNotification]
func notificationMsg(n tracker.Notification) Msg {
	return Msg{kind: MsgNotification, data: n}
}

// changedMsg is the constructor for [MsgChanged]
func changedMsg() Msg {
	return Msg{kind: MsgChanged}
}

// browserOpenedMsg is the constructor for [MsgBrowserOpened]
func browserOpenedMsg(err error) Msg {
	return Msg{kind: MsgBrowserOpened, data: err}
}

// Events forwards tracker callbacks into the program.
//
// Sends never block. When the buffer is full a change is dropped, as the next one repaints the roster anyway;
// notifications are dropped the same way.
type Events struct {
	ch chan Msg
}

// NewEvents creates an event bridge. Pass [Events.Notify] and [Events.Changed] to the tracker.
func NewEvents() *Events {
	return &Events{ch: make(chan Msg, 64)}
}

// Notify implements the tracker Notify callback.
func (e *Events) Notify(n tracker.Notification) {
	select {
	case e.ch <- notificationMsg(n):
	default:
	}
}

// Changed implements the tracker OnChange callback.
func (e *Events) Changed() {
	select {
	case e.ch <- changedMsg():
	default:
	}
}

// wait returns a command that delivers the next event, or nothing once ctx is done.
func (e *Events) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-e.ch:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}
