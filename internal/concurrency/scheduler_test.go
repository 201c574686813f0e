// File: internal/concurrency/scheduler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"testing"
	"time"
)

func TestSchedulerFiresInOrder(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	var order []int
	done := make(chan struct{})

	s.Schedule(30*int64(time.Millisecond), func() { order = append(order, 3) })
	s.Schedule(10*int64(time.Millisecond), func() { order = append(order, 1) })
	s.Schedule(20*int64(time.Millisecond), func() { order = append(order, 2) })
	s.Schedule(40*int64(time.Millisecond), func() {
		order = append(order, 4)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled tasks")
	}

	want := []int{1, 2, 3, 4}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Close()

	fired := false
	c, err := s.Schedule(int64(50*time.Millisecond), func() { fired = true })
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Cancel(c); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if fired {
		t.Fatal("canceled task fired")
	}
}
