// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package services

import (
	"context"
	"fmt"
	"io"

	"github.com/thejerf/suture/v4"
)

// CloserService ties a resource that runs its own goroutines, such as the
// ingest queue, to the supervisor lifetime: Serve waits for shutdown and
// then closes the resource once, draining whatever it buffers.
type CloserService struct {
	name   string
	closer io.Closer
}

// NewCloserService returns a CloserService named name.
func NewCloserService(name string, c io.Closer) *CloserService {
	return &CloserService{name: name, closer: c}
}

// Serve blocks until ctx ends and then calls Close. The service is never
// restarted after Close.
func (s *CloserService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("%s close: %w", s.name, err)
	}
	return suture.ErrDoNotRestart
}

// String identifies the service in supervisor logs.
func (s *CloserService) String() string { return s.name }
