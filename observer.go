package xsvc

import (
	"github.com/trickstertwo/xlog"
)

// Observer receives bus lifecycle events. Implementations should be
// non-blocking; slow work belongs behind the observer pool.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits bus events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("unit", e.Unit),
		xlog.Str("message_id", e.MessageID),
		xlog.Str("kind", string(e.Kind)),
		xlog.Str("lane", e.Priority.String()),
	)
	switch e.Type {
	case Error, Dropped, ResponseExpired:
		ev.Warn().Err(e.Err).Msg("xsvc event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xsvc event")
	}
}
