package notify

import (
	"context"
	"time"

	"github.com/kentyler/cogito-sub006/internal/repository"
)

type StuckAlert struct {
	Bot       repository.Bot
	Threshold time.Duration
	Idle      time.Duration
}

type Notifier interface {
	NotifyStuck(ctx context.Context, alert StuckAlert) error
}

type nopNotifier struct{}

// Nop discards every alert.
func Nop() Notifier { return nopNotifier{} }

func (nopNotifier) NotifyStuck(context.Context, StuckAlert) error { return nil }
