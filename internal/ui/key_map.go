package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up     key.Binding
	down   key.Binding
	next   key.Binding
	toggle key.Binding
	submit key.Binding
	enter  key.Binding
	open   key.Binding
	logout key.Binding
	quit   key.Binding
	cancel key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		next:   key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "next field")),
		toggle: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "create/join")),
		submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "start")),
		enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "show rider")),
		open:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open map")),
		logout: key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "leave ride")),
		quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		cancel: key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.enter},
		{k.next, k.toggle, k.submit},
		{k.open, k.logout, k.quit},
	}
}
