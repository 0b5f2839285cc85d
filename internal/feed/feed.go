package feed

import (
	"context"
	"iter"
	"log"
	"time"

	"foodbridge/internal/store"
)

type ChangeEvent = store.ChangeEvent

type Source interface {
	ListChangeEvents(ctx context.Context, after store.FeedOffset, limit int) ([]store.ChangeEvent, error)
	GetOffset(ctx context.Context, consumer string) (store.FeedOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset store.FeedOffset) error
}

type Options struct {
	Consumer     string
	PollInterval time.Duration
	BatchSize    int
	// Follow keeps polling after the feed is drained. Without it the
	// sequence ends once no more events are available.
	Follow bool
}

// Stream yields change events after the consumer's committed offset. The
// sequence is lazy and may be ranged over again; each range resumes from
// the last offset committed by the previous one. An event counts as handled
// once the loop body returns for it.
func Stream(ctx context.Context, src Source, opts Options) iter.Seq[ChangeEvent] {
	if opts.Consumer == "" {
		opts.Consumer = "default"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	return func(yield func(ChangeEvent) bool) {
		offset, err := src.GetOffset(ctx, opts.Consumer)
		if err != nil {
			log.Printf("feed load offset consumer=%s error=%v", opts.Consumer, err)
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			events, err := src.ListChangeEvents(ctx, offset, opts.BatchSize)
			if err != nil {
				log.Printf("feed list consumer=%s error=%v", opts.Consumer, err)
				events = nil
			}
			for _, event := range events {
				if !yield(event) {
					commit(ctx, src, opts.Consumer, store.OffsetOf(event))
					return
				}
				offset = store.OffsetOf(event)
			}
			if len(events) > 0 {
				commit(ctx, src, opts.Consumer, offset)
				if len(events) == opts.BatchSize {
					continue
				}
			}
			if !opts.Follow {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.PollInterval):
			}
		}
	}
}

func commit(ctx context.Context, src Source, consumer string, offset store.FeedOffset) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := src.UpdateOffset(commitCtx, consumer, offset); err != nil {
		log.Printf("feed commit consumer=%s error=%v", consumer, err)
	}
}
