package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jra3/domesync/internal/config"
	"github.com/jra3/domesync/internal/domerr"
	"github.com/jra3/domesync/internal/snapshot"
)

func TestPublishAndSubscribeImmediate(t *testing.T) {
	q := New(config.QueueConfig{Window: 4}, nil)
	q.Publish(snapshot.Batch{snapshot.Removed(uuid.Nil)})

	entries, cursor, err := q.SubscribeFrom(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("SubscribeFrom: %v", err)
	}
	if len(entries) != 1 || cursor != 1 {
		t.Fatalf("entries=%v cursor=%d", entries, cursor)
	}
}

func TestSubscribeBlocksThenWakesOnPublish(t *testing.T) {
	q := New(config.QueueConfig{Window: 4}, nil)
	done := make(chan []Entry, 1)
	go func() {
		entries, _, err := q.SubscribeFrom(context.Background(), 0, 2*time.Second)
		if err != nil {
			t.Error(err)
		}
		done <- entries
	}()

	time.Sleep(20 * time.Millisecond)
	q.Publish(snapshot.Batch{snapshot.Removed(uuid.Nil)})

	select {
	case entries := <-done:
		if len(entries) != 1 {
			t.Errorf("entries = %v", entries)
		}
	case <-time.After(time.Second):
		t.Fatal("SubscribeFrom never woke up")
	}
}

func TestSubscribeTimesOutEmpty(t *testing.T) {
	q := New(config.QueueConfig{Window: 4}, nil)
	entries, _, err := q.SubscribeFrom(context.Background(), 0, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("SubscribeFrom: %v", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestCloseWakesBlockedSubscriber(t *testing.T) {
	q := New(config.QueueConfig{Window: 4}, nil)
	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.SubscribeFrom(context.Background(), 0, 10*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, domerr.ErrSessionTerminated) {
			t.Errorf("err = %v, want ErrSessionTerminated", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SubscribeFrom never woke up after Close")
	}

	q.Publish(snapshot.Batch{snapshot.Removed(uuid.Nil)})
	if q.CurrentCursor() != 0 {
		t.Error("Publish after Close must be dropped")
	}
}

func TestWindowOverflow(t *testing.T) {
	q := New(config.QueueConfig{Window: 2}, nil)
	for i := 0; i < 5; i++ {
		q.Publish(snapshot.Batch{snapshot.Removed(uuid.Nil)})
	}
	_, _, err := q.SubscribeFrom(context.Background(), 0, time.Second)
	if !errors.Is(err, domerr.ErrWindowOverflow) {
		t.Fatalf("err = %v, want ErrWindowOverflow", err)
	}
}
