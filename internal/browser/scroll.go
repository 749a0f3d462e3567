package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/places-scraper/internal/backoff"
)

const scrollScript = `(selector) => {
	const el = selector ? document.querySelector(selector) : document.scrollingElement;
	if (!el) {
		return -1;
	}
	el.scrollTop = el.scrollHeight;
	return el.scrollHeight;
}`

// FeedScroller scrolls a lazily loaded container until its height stops
// growing.
type FeedScroller struct {
	Interval     time.Duration
	StableRounds int
	MaxRounds    int
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
}

func NewFeedScroller(logger *slog.Logger) *FeedScroller {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedScroller{
		Interval:     1500 * time.Millisecond,
		StableRounds: 3,
		MaxRounds:    200,
		logger:       logger.With("component", "scroller"),
		sleep:        backoff.Sleep,
	}
}

// Scroll scrolls container (the document when empty) to its end and returns
// the number of rounds performed.
func (s *FeedScroller) Scroll(ctx context.Context, page Page, container string) (int, error) {
	stable := s.StableRounds
	if stable < 1 {
		stable = 1
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}

	last := -1
	unchanged := 0
	rounds := 0
	for s.MaxRounds <= 0 || rounds < s.MaxRounds {
		if err := ctx.Err(); err != nil {
			return rounds, err
		}

		v, err := page.Evaluate(scrollScript, container)
		if err != nil {
			return rounds, fmt.Errorf("failed to scroll %q: %w", container, err)
		}
		rounds++

		height := toInt(v)
		if height < 0 {
			return rounds, fmt.Errorf("%w: %s", ErrElementNotFound, container)
		}

		if height == last {
			unchanged++
			if unchanged >= stable {
				break
			}
		} else {
			unchanged = 0
			last = height
		}

		if err := sleep(ctx, s.Interval); err != nil {
			return rounds, err
		}
	}

	s.logger.Debug("scroll finished", "container", container, "rounds", rounds, "height", last)
	return rounds, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return -1
	}
}
