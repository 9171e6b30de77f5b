package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/roster"
)

var _ list.Item = riderItem{}

// riderItem wraps [models.Rider] to implement [list.Item].
type riderItem struct {
	rider models.Rider
}

func (i riderItem) FilterValue() string { return i.rider.Username }
func (i riderItem) Title() string {
	if i.rider.Self {
		return i.rider.Username + " (you)"
	}
	return i.rider.Username
}
func (i riderItem) Description() string {
	if i.rider.Location == nil {
		return roster.LocationUnavailable
	}
	return i.rider.Location.String()
}

func riderItems(riders []models.Rider) []list.Item {
	items := make([]list.Item, len(riders))
	for i, r := range riders {
		items[i] = riderItem{rider: r}
	}
	return items
}
