// Zaparoo Drives
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Drives.
//
// Zaparoo Drives is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Drives is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Drives.  If not, see <http://www.gnu.org/licenses/>.

// Package settle infers completion of fire-and-forget copies and moves by
// polling the destination size until it stops changing at the expected value.
//
// The shell copy primitive gives no completion signal. A copy that never
// shows a size inside the first window is reported as not started. A copy
// whose size stays the same for a whole retry window is reported as stalled.
package settle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrIncomplete is the kind shared by every verification failure.
	ErrIncomplete = errors.New("transfer incomplete")
	// ErrNotStarted means the destination never became observable.
	ErrNotStarted = fmt.Errorf("%w: copy may not have started", ErrIncomplete)
	// ErrStalled means the destination stopped growing short of the expected size.
	ErrStalled = fmt.Errorf("%w: copy stalled", ErrIncomplete)
	// ErrMoveUnconfirmed means a folder move settled but its source is still there.
	ErrMoveUnconfirmed = fmt.Errorf("%w: move not confirmed", ErrIncomplete)
)

const (
	DefaultInterval  = 50 * time.Millisecond
	DefaultFirstWait = 100
	DefaultRetryWait = 25

	// Bulk copies queue many files behind one shell call, so the first byte of
	// a later file can take much longer to show up.
	BulkFirstWait = 500
	BulkRetryWait = 75

	DefaultMoveInterval = 100 * time.Millisecond
	DefaultMoveSamples  = 4
	DefaultMoveRounds   = 20
)

// Options bounds a size wait.
type Options struct {
	// Interval between two size samples.
	Interval time.Duration
	// FirstWait is the number of samples allowed before the destination
	// must show a size.
	FirstWait int
	// RetryWait is the number of samples the size may stay unchanged before
	// the copy counts as stalled.
	RetryWait int
}

// DefaultOptions are the timings for single file copies.
func DefaultOptions() Options {
	return Options{Interval: DefaultInterval, FirstWait: DefaultFirstWait, RetryWait: DefaultRetryWait}
}

// BulkOptions are the timings for files copied as part of a bulk transfer.
func BulkOptions() Options {
	return Options{Interval: DefaultInterval, FirstWait: BulkFirstWait, RetryWait: BulkRetryWait}
}

// MoveOptions bounds a folder move wait.
type MoveOptions struct {
	Interval time.Duration
	// Samples is the number of unchanged samples that make one stable round.
	Samples int
	// Rounds is the number of stable rounds allowed while the source still
	// resolves.
	Rounds int
}

// DefaultMoveOptions are the timings for delete-by-move of folders.
func DefaultMoveOptions() MoveOptions {
	return MoveOptions{Interval: DefaultMoveInterval, Samples: DefaultMoveSamples, Rounds: DefaultMoveRounds}
}

// SizeProbe reports the current destination size. ok is false while the
// destination cannot be observed at all.
type SizeProbe func() (size int64, ok bool)

// Sleep waits for d on clock, returning early if ctx is done.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-clock.After(d):
		return nil
	}
}

// WaitForSize blocks until probe reports at least expected bytes. A size
// above expected also counts as done, since the copy cannot shrink it back.
func WaitForSize(
	ctx context.Context,
	clock clockwork.Clock,
	opts Options,
	expected int64,
	probe SizeProbe,
) error {
	cur, ok := probe()
	for attempt := 0; !started(cur, ok, expected); attempt++ {
		if attempt >= opts.FirstWait {
			return fmt.Errorf("%w (expected %d bytes)", ErrNotStarted, expected)
		}
		if err := Sleep(ctx, clock, opts.Interval); err != nil {
			return err
		}
		cur, ok = probe()
	}

	for cur < expected {
		last := cur
		moved := false
		for range opts.RetryWait {
			if err := Sleep(ctx, clock, opts.Interval); err != nil {
				return err
			}
			next, nextOK := probe()
			if !nextOK {
				continue
			}
			cur = next
			if cur >= expected || cur != last {
				moved = true
				break
			}
		}
		if !moved {
			return fmt.Errorf("%w at %d of %d bytes", ErrStalled, cur, expected)
		}
		log.Debug().Int64("size", cur).Int64("expected", expected).Msg("copy still in progress")
	}

	return nil
}

func started(cur int64, ok bool, expected int64) bool {
	if !ok {
		return false
	}
	// An empty file is complete as soon as it exists.
	return cur > 0 || expected == 0
}

// WaitForMove blocks until the total size under a move destination stops
// changing and the move source no longer resolves. Any growth restarts the
// round count.
func WaitForMove(
	ctx context.Context,
	clock clockwork.Clock,
	opts MoveOptions,
	total func() int64,
	sourceGone func() bool,
) error {
	last := int64(-1)
	for round := 0; round < opts.Rounds; round++ {
		cur := total()
		for i := 0; i < opts.Samples && cur == last; i++ {
			if err := Sleep(ctx, clock, opts.Interval); err != nil {
				return err
			}
			cur = total()
		}
		if cur > last {
			last = cur
			round = -1
			continue
		}
		last = cur
		if sourceGone() {
			return nil
		}
	}
	return ErrMoveUnconfirmed
}
