package ui

import "github.com/bamsammich/linkback/internal/event"

// quietPresenter drains events and produces no output.
type quietPresenter struct{}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	//nolint:revive // empty-block: draining keeps the engine unblocked
	for range events {
	}
	return nil
}
