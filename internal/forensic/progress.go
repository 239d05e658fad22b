package forensic

import "context"

// Progress is one advisory update: the stage being worked on, an overall
// percentage and free text.
type Progress struct {
	Stage   string
	Percent int
	Detail  string
}

// ProgressSink receives progress updates. Delivery is best effort; errors are
// logged and otherwise ignored.
type ProgressSink interface {
	Report(ctx context.Context, p Progress) error
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, p Progress) error

func (f ProgressFunc) Report(ctx context.Context, p Progress) error { return f(ctx, p) }

type nopSink struct{}

func (nopSink) Report(context.Context, Progress) error { return nil }
