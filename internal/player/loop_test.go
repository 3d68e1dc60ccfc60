package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoop_PreservesOrder(t *testing.T) {
	l := NewLoop()
	go l.Run(context.Background())
	defer l.Stop()

	var (
		mu  sync.Mutex
		got []int
	)
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLoop_DoAfterStop(t *testing.T) {
	l := NewLoop()
	go l.Run(context.Background())

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("task did not run")
	}

	l.Stop()
	<-l.Done()

	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after stop = %v, want ErrClosed", err)
	}
	if l.Post(func() {}) {
		t.Error("Post after stop accepted a task")
	}
}

func TestLoop_StopDrainsQueue(t *testing.T) {
	l := NewLoop()
	count := 0
	for i := 0; i < 10; i++ {
		l.Post(func() { count++ })
	}
	l.Stop()
	l.Run(context.Background())

	if count != 10 {
		t.Errorf("ran %d tasks, want 10", count)
	}
}

func TestLoop_AfterFunc(t *testing.T) {
	l := NewLoop()
	go l.Run(context.Background())
	defer l.Stop()

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc never fired")
	}
}

func TestLoop_Every(t *testing.T) {
	l := NewLoop()
	go l.Run(context.Background())
	defer l.Stop()

	ticks := make(chan struct{}, 10)
	stop := l.Every(5*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	defer stop()

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
}
