// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats is a snapshot of the counters of a Backend.
type Stats struct {
	// NumObjects currently held (pushed or computed, and not freed).
	NumObjects int

	// NumPushed is the total number of values pushed.
	NumPushed int64

	// TasksDispatched, TasksCompleted and TasksFailed count calls to Backend.Call and their outcome.
	TasksDispatched, TasksCompleted, TasksFailed int64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("objects=%s pushed=%s tasks=%s (completed=%s, failed=%s)",
		humanize.Comma(int64(s.NumObjects)), humanize.Comma(s.NumPushed),
		humanize.Comma(s.TasksDispatched), humanize.Comma(s.TasksCompleted), humanize.Comma(s.TasksFailed))
}
