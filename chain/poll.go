// Copyright 2023 - See NOTICE file for copyright holders.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chain

import (
	"context"
	"time"

	"perun.network/go-perun/log"
)

// DefaultPollInterval default value for the interval of a Poller.
const DefaultPollInterval = 1 * time.Second

type (
	// Condition is checked by a Poller on every tick. Returning done ends the
	// polling, returning an error aborts it.
	Condition func(ctx context.Context) (done bool, err error)

	// Poller repeatedly checks a condition until it holds or the context is
	// cancelled.
	Poller struct {
		log.Embedding

		interval time.Duration
	}
)

// NewPoller returns a new Poller. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{log.MakeEmbedding(log.Default()), interval}
}

// Interval returns the polling interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Wait checks cond immediately and then once per interval. It returns nil as
// soon as cond reports done, the error of cond, or the mapped context error.
func (p *Poller) Wait(ctx context.Context, cond Condition) error {
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		p.Log().Tracef("Condition not met, polling again in %v", p.interval)

		select {
		case <-ctx.Done():
			return ContextError(ctx.Err())
		case <-time.After(p.interval):
		}
	}
}
