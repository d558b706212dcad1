package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Error creates an "error" attribute. A nil error yields an empty Attr, which
// slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func AccountID(id string) slog.Attr {
	return slog.String("account_id", id)
}

func Email(email string) slog.Attr {
	return slog.String("email", email)
}

func Fingerprint(fp string) slog.Attr {
	return slog.String("fingerprint", fp)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// EventID records a payment-provider event identifier.
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Event names what happened, e.g. "webhook_received".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Tokens(key string, n uint64) slog.Attr {
	return slog.Uint64(key, n)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

type accountIDKey struct{}

type accountSlot struct{ id atomic.Value }

func (s *accountSlot) get() string {
	id, _ := s.id.Load().(string)
	return id
}

// WithAccountSlot reserves room for an account id that is only known further
// down the call chain. Records logged with the returned context pick up the
// id once WithAccountID fills it in.
func WithAccountSlot(ctx context.Context) context.Context {
	if _, ok := ctx.Value(accountIDKey{}).(*accountSlot); ok {
		return ctx
	}
	return context.WithValue(ctx, accountIDKey{}, &accountSlot{})
}

// WithAccountID stores the authenticated account id for log extraction. A
// slot reserved by WithAccountSlot is filled in place.
func WithAccountID(ctx context.Context, id string) context.Context {
	if slot, ok := ctx.Value(accountIDKey{}).(*accountSlot); ok {
		slot.id.Store(id)
		return ctx
	}
	slot := &accountSlot{}
	slot.id.Store(id)
	return context.WithValue(ctx, accountIDKey{}, slot)
}

// AccountIDExtractor adds account_id to records logged with a context built
// by WithAccountID or WithAccountSlot.
func AccountIDExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if slot, ok := ctx.Value(accountIDKey{}).(*accountSlot); ok {
			if id := slot.get(); id != "" {
				return AccountID(id), true
			}
		}
		return slog.Attr{}, false
	}
}
