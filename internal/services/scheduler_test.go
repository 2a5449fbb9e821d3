package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsJobOnTicks(t *testing.T) {
	ticks := make(chan time.Time)
	ran := make(chan struct{}, 4)

	s := NewScheduler("test", time.Hour, func() { ran <- struct{}{} })
	s.newTicker = func(time.Duration) *time.Ticker {
		return &time.Ticker{C: ticks}
	}

	s.Start()
	ticks <- time.Now()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job was not run after a tick")
	}

	ticks <- time.Now()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job was not run after the second tick")
	}

	s.Stop()
	assert.Empty(t, ran)
}

func TestScheduler_StopWaitsForExit(t *testing.T) {
	s := NewScheduler("test", time.Hour, func() {})
	s.Start()
	s.Stop()

	select {
	case <-s.done:
	default:
		t.Fatal("loop still running after Stop returned")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler("test", time.Hour, func() {})
	assert.NotPanics(t, func() { s.Stop() })
}
