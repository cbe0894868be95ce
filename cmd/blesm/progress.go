package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressPrinter shows a countdown on one terminal line while a scan or
// resolve runs. Off a terminal it prints nothing.
//
//	p := newProgressPrinter(cmd.ErrOrStderr(), "Scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
type progressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	enabled  bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newProgressPrinter(w io.Writer, prefix string, duration time.Duration) *progressPrinter {
	return &progressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		enabled:  isTerminal(w),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start must be called at most once.
func (p *progressPrinter) Start() {
	if !p.enabled {
		close(p.done)
		return
	}

	start := time.Now()
	p.print(p.duration)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print(p.duration - time.Since(start))
			}
		}
	}()
}

func (p *progressPrinter) print(remaining time.Duration) {
	if p.duration <= 0 {
		fmt.Fprintf(p.w, "\r%s...   ", p.prefix)
		return
	}
	// Round to the nearest second; 0s once the countdown completes.
	seconds := 0
	if remaining > 0 {
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, seconds)
}

// Stop clears the line. Safe to call more than once.
func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		if p.enabled {
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}
