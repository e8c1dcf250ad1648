//
//  Daemon for NimbusVPN Client Desktop
//  https://github.com/nimbusvpn/daemon
//
//  Created by NimbusVPN Team.
//  Copyright (c) 2026 NimbusVPN Limited.
//
//  This file is part of the Daemon for NimbusVPN Client Desktop.
//
//  The Daemon for NimbusVPN Client Desktop is free software: you can redistribute it and/or
//  modify it under the terms of the GNU General Public License as published by the Free
//  Software Foundation, either version 3 of the License, or (at your option) any later version.
//
//  The Daemon for NimbusVPN Client Desktop is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
//  or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for more
//  details.
//
//  You should have received a copy of the GNU General Public License
//  along with the Daemon for NimbusVPN Client Desktop. If not, see <https://www.gnu.org/licenses/>.
//

package nmclient

import (
	"fmt"
	"time"
)

// ErrFutureTimeout - returned by Future.WaitTimeout when the deadline expires
// before the dispatch loop fulfills the future.
var ErrFutureTimeout = fmt.Errorf("timed out waiting for daemon operation")

// Future - result of an operation submitted to the dispatch loop.
// It is fulfilled exactly once, on the dispatch loop, and awaited from any
// other goroutine. Awaiting it on the dispatch loop itself would deadlock
// and is treated as a programming error.
type Future struct {
	client *Client
	done   chan struct{}
	val    interface{}
	err    error
}

func newFuture(c *Client) *Future {
	return &Future{client: c, done: make(chan struct{})}
}

// fulfill sets the result. Fulfilling twice is a bug.
func (f *Future) fulfill(val interface{}, err error) {
	select {
	case <-f.done:
		log.Panic("future fulfilled twice")
	default:
	}
	f.val = val
	f.err = err
	close(f.done)
}

// ResolvedFuture returns an already-fulfilled future. Used by operations
// that complete synchronously and by collaborator fakes in tests.
func ResolvedFuture(val interface{}, err error) *Future {
	f := newFuture(nil)
	f.fulfill(val, err)
	return f
}

// Wait blocks until the future is fulfilled.
func (f *Future) Wait() (interface{}, error) {
	f.assertNotOnDispatchLoop()
	<-f.done
	return f.val, f.err
}

// WaitTimeout blocks until the future is fulfilled or the timeout expires.
func (f *Future) WaitTimeout(timeout time.Duration) (interface{}, error) {
	f.assertNotOnDispatchLoop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		return nil, fmt.Errorf("%w (after %v)", ErrFutureTimeout, timeout)
	}
}

func (f *Future) assertNotOnDispatchLoop() {
	select {
	case <-f.done:
		return // already fulfilled, waiting cannot deadlock
	default:
	}
	if f.client != nil && f.client.isOnDispatchLoop() {
		log.Panic("future awaited on the dispatch loop (deadlock)")
	}
}
