// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package remote

// Outcome is the result of a remote read: either an available value or
// unavailable. The engine branches on the value instead of catching an
// error, which makes the absorb-all-failures contract visible in every
// fetch signature.
type Outcome[T any] struct {
	value     T
	available bool
}

// Ok wraps an available value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{value: v, available: true}
}

// Unavailable is the failed outcome. The cause is deliberately not
// carried: all remote failures classify the same.
func Unavailable[T any]() Outcome[T] {
	return Outcome[T]{}
}

// Attempt converts a (value, error) pair from a Store call into an
// Outcome.
func Attempt[T any](v T, err error) Outcome[T] {
	if err != nil {
		return Unavailable[T]()
	}
	return Ok(v)
}

// Available returns the value and whether it is present.
func (o Outcome[T]) Available() (T, bool) {
	return o.value, o.available
}
