// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

// AccountFeed fans out account list changes of a backend to its listeners.
// The zero value is ready to use.
type AccountFeed struct {
	feed event.Feed

	mu   sync.Mutex
	last []string
	seen bool
}

// Subscribe registers fn. fn is called from a dedicated goroutine, in the
// order the updates are sent. An update that is already queued may still be
// delivered after the returned Unsubscribe was called.
func (f *AccountFeed) Subscribe(fn AccountChangeFunc) Unsubscribe {
	ch := make(chan []string, 8)
	sub := f.feed.Subscribe(ch)
	go func() {
		for {
			select {
			case addrs := <-ch:
				fn(addrs)
			case <-sub.Err():
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(sub.Unsubscribe) }
}

// Send delivers addrs to all listeners.
func (f *AccountFeed) Send(addrs []string) int {
	f.mu.Lock()
	f.last = append([]string(nil), addrs...)
	f.seen = true
	f.mu.Unlock()
	return f.feed.Send(append([]string(nil), addrs...))
}

// Update sends addrs only if they differ from the last sent list. It reports
// whether an update was sent.
func (f *AccountFeed) Update(addrs []string) bool {
	f.mu.Lock()
	changed := !f.seen || !sameAddresses(f.last, addrs)
	f.mu.Unlock()
	if changed {
		f.Send(addrs)
	}
	return changed
}

// Prime sets the list later updates are compared against without sending
// it.
func (f *AccountFeed) Prime(addrs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = append([]string(nil), addrs...)
	f.seen = true
}

// Reset forgets the last sent list so that the next Update is always sent.
func (f *AccountFeed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last, f.seen = nil, false
}

func sameAddresses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualAddress(a[i], b[i]) {
			return false
		}
	}
	return true
}
