package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func attachGroupLog[T any](g *Group[T], l *eventLog, tag string) {
	g.OnTaskStarted(func(p T) { l.add(fmt.Sprintf("%s/taskStarted:%v", tag, p)) })
	g.OnTaskCompleted(func(p T) { l.add(fmt.Sprintf("%s/taskCompleted:%v", tag, p)) })
	g.OnTaskTimedOut(func(p T) { l.add(fmt.Sprintf("%s/taskTimedOut:%v", tag, p)) })
	g.OnTaskFailed(func(err error, p T) { l.add(fmt.Sprintf("%s/taskFailed:%v", tag, p)) })
	g.OnTaskFinished(func(err error, p T) { l.add(fmt.Sprintf("%s/taskFinished:%v", tag, p)) })
	g.OnFinished(func() { l.add(tag + "/finished") })
}

func TestGroupsFilterDisjointSubsets(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	e := New(func(ctx context.Context, p string) error { return nil }, Config{ManualStart: true})
	g1 := e.CreateGroup()
	g2 := e.CreateGroup()
	attachGroupLog(g1, log, "g1")
	attachGroupLog(g2, log, "g2")

	g1.Push("x")
	g2.Push("y")
	e.Push("z") // belongs to no group

	if g1.Len() != 1 || g2.Len() != 1 {
		t.Fatalf("group lengths = %d/%d, want 1/1", g1.Len(), g2.Len())
	}
	if e.Len() != 3 {
		t.Fatalf("engine Len = %d, want 3", e.Len())
	}

	if err := waitFuture(t, e.StartAsync()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	for _, ev := range log.snapshot() {
		if strings.HasPrefix(ev, "g1/") && !strings.Contains(ev, ":x") && !strings.HasSuffix(ev, "/finished") {
			t.Fatalf("g1 saw foreign event %q", ev)
		}
		if strings.HasPrefix(ev, "g2/") && !strings.Contains(ev, ":y") && !strings.HasSuffix(ev, "/finished") {
			t.Fatalf("g2 saw foreign event %q", ev)
		}
		if strings.Contains(ev, ":z") {
			t.Fatalf("ungrouped task leaked into a group: %q", ev)
		}
	}

	want := []string{
		"g1/taskStarted:x", "g1/taskCompleted:x", "g1/taskFinished:x", "g1/finished",
		"g2/taskStarted:y", "g2/taskCompleted:y", "g2/taskFinished:y", "g2/finished",
	}
	got := log.snapshot()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("group event order mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestDuplicatePayloadsAcrossGroups(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	counts := map[string]int{}
	bump := func(k string) {
		mu.Lock()
		counts[k]++
		mu.Unlock()
	}

	e := New(func(ctx context.Context, p string) error { return nil }, Config{ManualStart: true})
	g1 := e.CreateGroup()
	g2 := e.CreateGroup()
	g1.OnTaskFinished(func(err error, p string) { bump("g1") })
	g2.OnTaskFinished(func(err error, p string) { bump("g2") })

	// Identical payload values in flight through both groups: the admission
	// token keeps them apart.
	g1.Push("same")
	g2.Push("same")

	if err := waitFuture(t, e.StartAsync()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts["g1"] != 1 || counts["g2"] != 1 {
		t.Fatalf("finished counts = %v, want exactly one per group", counts)
	}
}

func TestGroupFutureAndCompletion(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	e := NewFuncEngine(Config{ManualStart: true})
	g := e.CreateGroup()

	okFut := g.PushAsync(func(ctx context.Context) error { return nil })
	failFut := g.PushAsync(func(ctx context.Context) error { return boom })
	comp := g.Completion()

	if err := waitFuture(t, e.StartAsync()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := waitFuture(t, okFut); err != nil {
		t.Fatalf("ok future = %v", err)
	}
	if err := waitFuture(t, failFut); !errors.Is(err, boom) {
		t.Fatalf("fail future = %v, want %v", err, boom)
	}
	if err := waitFuture(t, comp); err != nil {
		t.Fatalf("group completion = %v", err)
	}

	// Empty group: settled immediately.
	f := g.Completion()
	select {
	case <-f.Done():
	default:
		t.Fatal("Completion on an empty group must come back settled")
	}
}

func TestGroupDestroy(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	log := &eventLog{}

	e := New(func(ctx context.Context, p string) error {
		started <- struct{}{}
		<-release
		return nil
	}, Config{})
	g := e.CreateGroup()
	attachGroupLog(g, log, "g")

	fut := g.PushAsync("x")
	waitSignal(t, started, "task start")

	comp := g.Completion()
	g.Destroy()
	if g.Active() {
		t.Fatal("group still active after Destroy")
	}
	g.Destroy() // harmless repeat

	// The task still runs to completion on the parent engine.
	close(release)
	if err := waitFuture(t, fut); err != nil {
		t.Fatalf("task future after destroy = %v", err)
	}
	if e.Len() != 0 {
		t.Fatalf("engine Len = %d, want 0", e.Len())
	}

	// No group events after the taskStarted that preceded Destroy, and the
	// outstanding completion future never settles. Documented limitation.
	for _, ev := range log.snapshot() {
		if strings.Contains(ev, "taskFinished") || strings.HasSuffix(ev, "/finished") {
			t.Fatalf("destroyed group emitted %q", ev)
		}
	}
	select {
	case <-comp.Done():
		t.Fatal("completion future settled after Destroy")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGroupTimedOutEvent(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)

	log := &eventLog{}
	e := NewFuncEngine(Config{})
	g := e.CreateGroup()
	attachGroupLog(g, log, "g")

	fut := g.PushAsync(func(ctx context.Context) error {
		<-block
		return nil
	}, TaskOptions{Timeout: 30 * time.Millisecond})

	if err := waitFuture(t, fut); !IsTimeout(err) {
		t.Fatalf("future error = %v, want timeout", err)
	}
	if g.Len() != 0 {
		t.Fatalf("group Len = %d, want 0", g.Len())
	}

	got := log.snapshot()
	want := []string{"g/taskStarted", "g/taskTimedOut", "g/taskFinished", "g/finished"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want shape %v", got, want)
	}
	for i := range want {
		if !strings.HasPrefix(got[i], want[i]) {
			t.Fatalf("event[%d] = %q, want prefix %q", i, got[i], want[i])
		}
	}
}
