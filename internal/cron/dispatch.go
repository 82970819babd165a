package cron

import "context"

// EngineDispatcher adapts a send-message function (typically
// internal/engine.Engine.SendMessage, partially applied with empty Flags)
// into a Dispatcher. Kept as a func type rather than depending on
// internal/engine directly so internal/cron has no import-time dependency
// on the Chat Engine package; the composition root supplies the closure.
type EngineDispatcher func(ctx context.Context, sessionID, content string) error

// SendMessage implements Dispatcher.
func (f EngineDispatcher) SendMessage(ctx context.Context, sessionID, content string) error {
	return f(ctx, sessionID, content)
}
