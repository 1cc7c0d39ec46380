package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps a progressbar instance for deterministic progress display.
// It renders nothing when color output is disabled.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a new progress bar with the given total and description.
func NewProgressBar(total int64, description string) *ProgressBar {
	w := ErrOut
	if !spinEnabled {
		w = io.Discard
	}

	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)

	return &ProgressBar{bar: bar}
}

// Set moves the bar to current.
func (p *ProgressBar) Set(current int64) {
	_ = p.bar.Set64(current)
}

// SetTotal updates the total value of the progress bar.
func (p *ProgressBar) SetTotal(total int64) {
	p.bar.ChangeMax64(total)
}

// Finish completes the progress bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// ImageProgress shows image downloads as a progress bar, pausing a spinner
// while the bar is on screen. Update is safe to call from any goroutine.
type ImageProgress struct {
	mu     sync.Mutex
	spin   *Spinner
	bar    *ProgressBar
	paused bool
}

// NewImageProgress creates an image progress display. spin may be nil.
func NewImageProgress(spin *Spinner) *ImageProgress {
	return &ImageProgress{spin: spin}
}

// Update reports done of total images settled. The bar appears on the first
// call and finishes when done reaches total.
func (p *ImageProgress) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total <= 0 {
		return
	}
	if p.bar == nil {
		if p.spin != nil && p.spin.active {
			p.spin.Stop()
			p.paused = true
		}
		p.bar = NewProgressBar(int64(total), "Downloading images")
	}
	p.bar.SetTotal(int64(total))
	p.bar.Set(int64(done))

	if done >= total {
		p.bar.Finish()
		p.bar = nil
		if p.paused {
			p.spin.Start()
			p.paused = false
		}
	}
}

// Active reports whether a bar is on screen.
func (p *ImageProgress) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bar != nil
}

// Spinner wraps a spinner for indeterminate progress. It is inert when
// color output is disabled.
type Spinner struct {
	spinner *spinner.Spinner
	active  bool
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = ErrOut
	return &Spinner{spinner: s}
}

// Start starts the animation.
func (s *Spinner) Start() {
	if !spinEnabled || s.active {
		return
	}
	s.spinner.Start()
	s.active = true
}

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() {
	if !s.active {
		return
	}
	s.spinner.Stop()
	s.active = false
}

// UpdateMessage replaces the spinner's message.
func (s *Spinner) UpdateMessage(message string) {
	s.spinner.Lock()
	s.spinner.Suffix = " " + message
	s.spinner.Unlock()
}
