// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package services

import (
	"context"
)

// Runner is a component with a blocking Run loop (the tenant registry).
type Runner interface {
	Run(ctx context.Context) error
}

// EngineService adapts a Runner to suture.Service.
type EngineService struct {
	runner Runner
	name   string
}

// NewEngineService wraps runner under the given service name.
func NewEngineService(name string, runner Runner) *EngineService {
	return &EngineService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *EngineService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *EngineService) String() string { return s.name }
