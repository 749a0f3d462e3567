package scraper

import (
	"time"

	"github.com/maltedev/places-scraper/internal/backoff"
)

type ImageMode int

const (
	// ImagesSingle keeps the first usable image.
	ImagesSingle ImageMode = iota
	// ImagesMulti scrolls the gallery and keeps every usable image.
	ImagesMulti
)

func ParseImageMode(s string) ImageMode {
	if s == "multi" || s == "multiple" {
		return ImagesMulti
	}
	return ImagesSingle
}

type ImageOptions struct {
	Mode ImageMode

	Trigger        string
	TriggerTimeout time.Duration
	TriggerSettle  time.Duration
	Fallbacks      []string
	FallbackSettle time.Duration
	ClickTimeout   time.Duration

	Selector string
	Timeout  time.Duration

	ScrollContainer string
	ScrollSettle    time.Duration
	EmptyRecheck    time.Duration

	ReloadTimeout time.Duration
	ReloadSettle  time.Duration

	Retry backoff.Policy
}

type Options struct {
	NavigationTimeout time.Duration
	Navigation        backoff.Policy

	ReadySelector string
	ReadyTimeout  time.Duration

	Images ImageOptions
}

func DefaultOptions() Options {
	nav := backoff.DefaultPolicy()
	nav.RetryIf = backoff.RetryAll

	return Options{
		NavigationTimeout: 60 * time.Second,
		Navigation:        nav,
		ReadySelector:     "h1.DUwDvf",
		ReadyTimeout:      60 * time.Second,
		Images: ImageOptions{
			Mode:           ImagesSingle,
			Trigger:        "button.aoRNLd",
			TriggerTimeout: 5 * time.Second,
			TriggerSettle:  3 * time.Second,
			Fallbacks:      []string{"div.YkuOqf", "div.RZ66Rb.FgCUCc img"},
			FallbackSettle: 2 * time.Second,
			ClickTimeout:   5 * time.Second,
			Selector:       ".U39Pmb[style]",
			Timeout:        10 * time.Second,
			ScrollSettle:   2 * time.Second,
			EmptyRecheck:   5 * time.Second,
			ReloadTimeout:  60 * time.Second,
			ReloadSettle:   3 * time.Second,
			Retry: backoff.Policy{
				MaxAttempts: 3,
				RetryIf:     backoff.RetryAll,
			},
		},
	}
}

// WithoutDelays zeroes every settle wait and retry delay.
func (o Options) WithoutDelays() Options {
	o.Navigation.InitialDelay = 0
	o.Navigation.MaxDelay = 0
	o.Images.TriggerSettle = 0
	o.Images.FallbackSettle = 0
	o.Images.ScrollSettle = 0
	o.Images.EmptyRecheck = 0
	o.Images.ReloadSettle = 0
	o.Images.Retry.InitialDelay = 0
	o.Images.Retry.MaxDelay = 0
	return o
}
