// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"time"

	"perun.network/provenance-backend/session"
)

// DefaultPollInterval is the balance polling period used for non-positive
// intervals.
const DefaultPollInterval = 5 * time.Second

// PollBalances refreshes the session balance every interval until ctx is
// done. notify is called with the session whenever the balance changed.
func (c *ProvenanceClient) PollBalances(ctx context.Context, interval time.Duration, notify func(session.Session)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	defer c.Log().Debug("PollBalances: stopped")

	last := c.wallet.Session()
	update := func() {
		if !c.wallet.Session().Connected() {
			last = c.wallet.Session()
			return
		}
		c.wallet.RefreshBalance(ctx)
		cur := c.wallet.Session()
		if cur.Balance != last.Balance || cur.Address != last.Address {
			last = cur
			if notify != nil && cur.Balance != "" {
				notify(cur)
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		update()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
