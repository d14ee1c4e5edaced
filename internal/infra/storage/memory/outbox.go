package memory

import (
	"context"
	"errors"
	"sync"

	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/uow"
)

// Outbox buffers records until Flush hands them to Sink. Records added inside a memory
// unit are buffered only once that unit commits. Without a sink flushed records are kept
// in Delivered.
type Outbox struct {
	Sink func(ctx context.Context, record appoutbox.EventRecord) error

	mu        sync.Mutex
	pending   []appoutbox.EventRecord
	delivered []appoutbox.EventRecord
}

type commitHooker interface {
	AfterCommit(fn func())
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	if unit, ok := uow.FromContext(ctx); ok {
		if hooked, ok := unit.(commitHooker); ok {
			hooked.AfterCommit(func() { o.enqueue(record) })
			return nil
		}
	}
	o.enqueue(record)
	return nil
}

func (o *Outbox) enqueue(record appoutbox.EventRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, record)
}

// Flush delivers pending records in order. Records whose delivery failed stay pending.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var (
		errs []error
		kept []appoutbox.EventRecord
	)
	for _, rec := range o.pending {
		if o.Sink != nil {
			if err := o.Sink(ctx, rec); err != nil {
				errs = append(errs, err)
				kept = append(kept, rec)
				continue
			}
		}
		if o.Sink == nil {
			o.delivered = append(o.delivered, rec)
		}
	}
	o.pending = kept
	return errors.Join(errs...)
}

func (o *Outbox) Delivered() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appoutbox.EventRecord(nil), o.delivered...)
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

var _ appoutbox.Outbox = (*Outbox)(nil)
