package services

import (
	"log"
	"time"
)

// Scheduler runs a job on a fixed interval with an explicit start/stop
// lifecycle. It is owned by the composition root, not by package state; the
// ticker factory is swappable for tests.
type Scheduler struct {
	name      string
	interval  time.Duration
	job       func()
	newTicker func(time.Duration) *time.Ticker
	stop      chan struct{}
	done      chan struct{}
}

func NewScheduler(name string, interval time.Duration, job func()) *Scheduler {
	return &Scheduler{
		name:      name,
		interval:  interval,
		job:       job,
		newTicker: time.NewTicker,
	}
}

// Start launches the loop. Ticks that arrive while the job is running are
// coalesced by the single loop goroutine; the job's own re-entrancy guard
// covers any out-of-band invocation.
func (s *Scheduler) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := s.newTicker(s.interval)
		defer ticker.Stop()

		log.Printf("[SCHEDULER] %s started (every %s)", s.name, s.interval)
		for {
			select {
			case <-ticker.C:
				s.job()
			case <-s.stop:
				log.Printf("[SCHEDULER] %s stopped", s.name)
				return
			}
		}
	}()
}

// Stop signals the loop and waits for it to exit. A job already in flight
// finishes; no new tick is delivered after Stop returns.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}
