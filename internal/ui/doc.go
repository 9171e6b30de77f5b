// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI has two views:
//  1. [LoginView] : Pick a name, then create a ride or join one by code or join link
//  2. [RideView] : Live roster, map panel and notifications for the current ride
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Tracker callbacks flow through [Events], a buffered channel that never blocks the tracker; the model re-arms a wait command
// after every event it receives.
//
// When the server rejects the session the model drops back to the login form with the username kept and an error shown.
package ui
