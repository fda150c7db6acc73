// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package remote

import (
	"errors"
	"testing"
)

func TestOutcome(t *testing.T) {
	t.Run("ok carries the value", func(t *testing.T) {
		v, ok := Ok([]string{"a", "b"}).Available()
		if !ok {
			t.Fatal("expected available")
		}
		if len(v) != 2 {
			t.Errorf("value lost: %v", v)
		}
	})

	t.Run("unavailable yields zero value", func(t *testing.T) {
		v, ok := Unavailable[int]().Available()
		if ok {
			t.Fatal("expected unavailable")
		}
		if v != 0 {
			t.Errorf("expected zero value, got %d", v)
		}
	})

	t.Run("attempt classifies any error as unavailable", func(t *testing.T) {
		if _, ok := Attempt(1, errors.New("boom")).Available(); ok {
			t.Error("error must classify as unavailable")
		}
		if _, ok := Attempt(0, ErrUnavailable).Available(); ok {
			t.Error("ErrUnavailable must classify as unavailable")
		}
		if v, ok := Attempt(7, nil).Available(); !ok || v != 7 {
			t.Errorf("nil error must be available: v=%d ok=%v", v, ok)
		}
	})
}
