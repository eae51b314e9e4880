package overlay

import (
	"context"

	"github.com/sudorandom/move-stream/pkg/ingest"
)

// Action is a UI request applied on the controller's goroutine.
type Action func(*Controller)

// Run is the controller's single consuming loop: ingestion messages and UI actions are
// applied one at a time, each to completion, until ctx is done.
func (c *Controller) Run(ctx context.Context, msgs <-chan ingest.Message, actions <-chan Action) error {
	defer c.ReleaseResources()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			c.Handle(m)
		case a := <-actions:
			a(c)
		}
	}
}

// Loop binds a controller to its inputs as a supervised service.
type Loop struct {
	Controller *Controller
	Messages   <-chan ingest.Message
	Actions    chan Action
}

func NewLoop(c *Controller, msgs <-chan ingest.Message) *Loop {
	return &Loop{Controller: c, Messages: msgs, Actions: make(chan Action)}
}

func (l *Loop) Serve(ctx context.Context) error {
	return l.Controller.Run(ctx, l.Messages, l.Actions)
}

func (l *Loop) String() string {
	return "overlay-controller"
}

// Do runs fn on the controller's goroutine and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(*Controller) error) error {
	done := make(chan error, 1)
	select {
	case l.Actions <- func(c *Controller) { done <- fn(c) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
