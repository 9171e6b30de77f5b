package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/ridex/internal/channel"
	"github.com/desertthunder/ridex/internal/maps"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
	"github.com/desertthunder/ridex/internal/tracker"
)

const (
	maxNotifications = 5 // kept on screen in the ride view

	// list size until the first tea.WindowSizeMsg
	defaultListWidth  = 40
	defaultListHeight = 16
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	LoginView ViewState = iota
	RideView
)

// login form fields, in tab order
const (
	fieldUsername = iota
	fieldAction
	fieldRideID
	fieldCount
)

// Client is the part of [tracker.Tracker] the TUI drives.
type Client interface {
	Login(ctx context.Context, username, action, rideID string) (models.Session, error)
	Start(ctx context.Context) error
	Logout(notifyServer bool)
	Session() (models.Session, bool)
	Riders() []models.Rider
	Select(id string) bool
	ChannelState() channel.State
	Map() maps.Adapter
}

var _ Client = (*tracker.Tracker)(nil)

// Options pre-fills the login form.
type Options struct {
	Username string
	RideID   string // a ride code or join link; switches the form to join
	BaseURL  string // used to print the join link
	// OpenURL opens the map in a browser. Defaults to [shared.OpenBrowser].
	OpenURL func(string) error
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	view    ViewState
	client  Client
	events  *Events
	baseURL string
	openURL func(string) error

	width  int
	height int

	username textinput.Model
	rideID   textinput.Model
	action   models.Action
	focus    int
	busy     bool

	session       models.Session
	riders        list.Model
	notifications []tracker.Notification
	err           error
	help          help.Model
	keys          keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, client Client, events *Events, opts Options) *Model {
	username := textinput.New()
	username.Placeholder = "your name"
	username.CharLimit = 64
	username.SetValue(opts.Username)

	rideID := textinput.New()
	rideID.Placeholder = "ride code or join link"
	rideID.CharLimit = 256

	action := models.ActionCreate
	if code, ok := shared.ParseJoinLink(opts.RideID); ok {
		rideID.SetValue(code)
		action = models.ActionJoin
	}

	riders := list.New(nil, list.NewDefaultDelegate(), defaultListWidth, defaultListHeight)
	riders.SetShowHelp(false)
	riders.SetFilteringEnabled(false)
	riders.SetShowStatusBar(false)

	if events == nil {
		events = NewEvents()
	}
	if opts.OpenURL == nil {
		opts.OpenURL = shared.OpenBrowser
	}

	m := &Model{
		ctx:      ctx,
		view:     LoginView,
		client:   client,
		events:   events,
		baseURL:  opts.BaseURL,
		openURL:  opts.OpenURL,
		username: username,
		rideID:   rideID,
		action:   action,
		riders:   riders,
		help:     help.New(),
		keys:     newKeyMap(),
	}
	if opts.Username != "" && action == models.ActionJoin {
		m.focus = fieldRideID
	}
	m.applyFocus()
	return m
}

// State returns the current view.
func (m *Model) State() ViewState { return m.view }

// Init starts listening for tracker events.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.events.wait(m.ctx))
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case LoginView:
			return m.handleLoginKeys(msg)
		case RideView:
			return m.handleRideKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateInputs(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgLoggedIn:
		res := msg.data.(loginResult)
		m.busy = false
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		m.session = res.session
		m.notifications = nil
		m.view = RideView
		m.refresh()
		return m, nil

	case MsgNotification:
		n := msg.data.(tracker.Notification)
		if n.Text == tracker.NoticeSessionExpired && (m.view == RideView || !m.busy) {
			m.toLogin(shared.ErrSessionExpired)
			return m, m.events.wait(m.ctx)
		}
		m.notifications = append(m.notifications, n)
		if len(m.notifications) > maxNotifications {
			m.notifications = m.notifications[len(m.notifications)-maxNotifications:]
		}
		return m, m.events.wait(m.ctx)

	case MsgChanged:
		if m.view == RideView {
			if _, ok := m.client.Session(); !ok {
				m.toLogin(nil)
			} else {
				m.refresh()
			}
		}
		return m, m.events.wait(m.ctx)

	case MsgBrowserOpened:
		if err, _ := msg.data.(error); err != nil {
			m.notifications = append(m.notifications, tracker.Notification{Level: tracker.LevelWarn, Text: fmt.Sprintf("could not open map: %v", err)})
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) handleLoginKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.cancel):
		return m, tea.Quit
	case m.busy:
		return m, nil
	case key.Matches(msg, m.keys.next):
		count := fieldCount
		if m.action == models.ActionCreate {
			count = fieldRideID // the code field is hidden
		}
		if msg.String() == "shift+tab" {
			m.focus = (m.focus + count - 1) % count
		} else {
			m.focus = (m.focus + 1) % count
		}
		m.applyFocus()
		return m, nil
	case key.Matches(msg, m.keys.toggle):
		m.toggleAction()
		return m, nil
	case m.focus == fieldAction && (msg.String() == " " || msg.String() == "left" || msg.String() == "right"):
		m.toggleAction()
		return m, nil
	case key.Matches(msg, m.keys.submit):
		m.busy = true
		m.err = nil
		return m, m.login(m.username.Value(), string(m.action), m.rideID.Value())
	}

	return m.updateInputs(msg)
}

func (m *Model) handleRideKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.client.Logout(true)
		return m, tea.Quit
	case key.Matches(msg, m.keys.logout):
		m.client.Logout(true)
		m.toLogin(nil)
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.riders.SelectedItem().(riderItem); ok {
			if !m.client.Select(item.rider.SessionID) {
				m.notifications = append(m.notifications, tracker.Notification{Level: tracker.LevelInfo, Text: item.rider.Username + ": location not available"})
			}
		}
		return m, nil
	case key.Matches(msg, m.keys.open):
		url := m.client.Map().URL()
		if url == "" {
			return m, nil
		}
		open := m.openURL
		return m, func() tea.Msg { return browserOpenedMsg(open(url)) }
	}

	var cmd tea.Cmd
	m.riders, cmd = m.riders.Update(msg)
	return m, cmd
}

func (m *Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case LoginView:
		switch m.focus {
		case fieldUsername:
			m.username, cmd = m.username.Update(msg)
		case fieldRideID:
			m.rideID, cmd = m.rideID.Update(msg)
		}
	case RideView:
		m.riders, cmd = m.riders.Update(msg)
	}
	return m, cmd
}

func (m *Model) login(username, action, rideID string) tea.Cmd {
	return func() tea.Msg {
		session, err := m.client.Login(m.ctx, username, action, rideID)
		if err != nil {
			return loggedInMsg(session, err)
		}
		if err := m.client.Start(m.ctx); err != nil {
			m.client.Logout(true)
			return loggedInMsg(session, err)
		}
		return loggedInMsg(session, nil)
	}
}

func (m *Model) toggleAction() {
	if m.action == models.ActionJoin {
		m.action = models.ActionCreate
		if m.focus == fieldRideID {
			m.focus = fieldAction
			m.applyFocus()
		}
	} else {
		m.action = models.ActionJoin
	}
}

func (m *Model) applyFocus() {
	m.username.Blur()
	m.rideID.Blur()
	switch m.focus {
	case fieldUsername:
		m.username.Focus()
	case fieldRideID:
		m.rideID.Focus()
	}
}

// toLogin returns to the login form, keeping the username for the next attempt.
func (m *Model) toLogin(err error) {
	m.view = LoginView
	m.busy = false
	m.err = err
	m.session = models.Session{}
	m.riders.SetItems(nil)
	m.applyFocus()
}

func (m *Model) refresh() {
	m.riders.SetItems(riderItems(m.client.Riders()))
	m.riders.Title = fmt.Sprintf("Riders (%d)", len(m.riders.Items()))
}

func (m *Model) resize() {
	w := max(m.width/2, 20)
	h := max(m.height-12, 5)
	m.riders.SetSize(w, h)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case RideView:
		return m.renderRide()
	default:
		return m.renderLogin()
	}
}

func (m *Model) renderLogin() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("ridex: group ride tracker"))
	b.WriteString("\n")
	b.WriteString(m.field(fieldUsername, "Name", m.username.View()))

	create, join := "( ) create", "( ) join"
	if m.action == models.ActionJoin {
		join = "(•) join"
	} else {
		create = "(•) create"
	}
	b.WriteString(m.field(fieldAction, "Ride", create+"  "+join))
	if m.action == models.ActionJoin {
		b.WriteString(m.field(fieldRideID, "Code", m.rideID.View()))
	}

	b.WriteString("\n")
	switch {
	case m.busy:
		b.WriteString(styles.warn.Render("Connecting..."))
		b.WriteString("\n")
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	helpKeys := []key.Binding{m.keys.next, m.keys.toggle, m.keys.submit, m.keys.cancel}
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(helpKeys))
	return b.String()
}

func (m *Model) field(id int, label, value string) string {
	marker := "  "
	if m.focus == id {
		marker = styles.ok.Render("> ")
	}
	return fmt.Sprintf("%s%-5s %s\n", marker, label, value)
}

func (m *Model) renderRide() string {
	role := ""
	if m.session.IsAdmin {
		role = " (admin)"
	}
	header := styles.title.Render(fmt.Sprintf("Ride %s • %s%s • %s", m.session.RideID, m.session.Username, role, m.client.ChannelState()))
	if m.session.IsAdmin && m.baseURL != "" {
		header += "\n" + styles.help.Render("Share: "+shared.JoinLink(m.baseURL, m.session.RideID))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.riders.View(), "  ", m.renderMap())

	var notes strings.Builder
	for _, n := range m.notifications {
		notes.WriteString(styles.level(n.Level).Render("• " + n.Text))
		notes.WriteString("\n")
	}

	helpKeys := []key.Binding{m.keys.up, m.keys.down, m.keys.enter, m.keys.open, m.keys.logout, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n\n%s\n%s", header, body, notes.String(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderMap() string {
	adapter := m.client.Map()
	v := adapter.View()

	lines := []string{styles.ok.Render("Map: " + adapter.Name())}
	if v.Center != nil {
		lines = append(lines, fmt.Sprintf("Center: %s (zoom %d)", v.Center, v.Zoom))
	} else {
		lines = append(lines, "Center: waiting for a fix")
	}
	lines = append(lines, fmt.Sprintf("Markers: %d", len(v.Markers)))
	for _, mk := range v.Markers {
		label := mk.Label
		if mk.ID == v.InfoOpen {
			label = styles.ok.Render(label)
		}
		lines = append(lines, fmt.Sprintf("  %s %s", label, mk.Location))
	}
	if url := adapter.URL(); url != "" {
		lines = append(lines, "", styles.help.Render("press o to open in a browser"))
	}
	return styles.panel.Render(strings.Join(lines, "\n"))
}
