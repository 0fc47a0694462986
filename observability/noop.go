package observability

import "context"

// NoOpObserver discards every event. Used when a subsystem requires an
// Observer but the caller wants no output, as in tests.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(ctx context.Context, event Event) {}
