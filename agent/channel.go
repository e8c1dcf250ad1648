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

package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("agent")
}

// Session is one control connection to the gateway agent. Close must be
// safe to call concurrently with a blocked Receive (it unblocks it) and
// more than once.
type Session interface {
	Connect(ctx context.Context) error
	RequestFeatures(f Features) error
	Receive() (Status, error)
	Close() error
}

// SessionFactory builds a fresh Session for each channel run.
type SessionFactory func() (Session, error)

// Notifier consumes the connection events derived from agent messages.
// Implemented by *tunnel.Tunnel.
type Notifier interface {
	Notify(evt events.Event)
}

// Channel runs at most one background agent session.
type Channel struct {
	factory  SessionFactory
	notifier Notifier

	mutex    sync.Mutex
	features Features
	cancel   context.CancelFunc
	done     chan struct{}
	session  Session
}

// NewChannel creates a stopped channel. The given features are requested
// right after every successful connect.
func NewChannel(factory SessionFactory, notifier Notifier, features Features) *Channel {
	return &Channel{factory: factory, notifier: notifier, features: features}
}

// Start launches the background session, stopping any prior one first.
func (c *Channel) Start() error {
	c.Stop()

	c.mutex.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mutex.Unlock()

	log.Info("starting agent listener...")
	go c.run(ctx, done)
	return nil
}

// Stop cancels the background session and waits for it to finish.
// Idempotent.
func (c *Channel) Stop() {
	c.mutex.Lock()
	cancel := c.cancel
	done := c.done
	session := c.session
	c.cancel = nil
	c.done = nil
	c.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if session != nil {
		// unblock a pending Receive
		session.Close()
	}
	<-done
}

// IsRunning reports whether a background session is active.
func (c *Channel) IsRunning() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.done != nil
}

// RequestFeatures applies new features to the running session. Without a
// session the features are stored and requested on the next Start.
func (c *Channel) RequestFeatures(f Features) error {
	c.mutex.Lock()
	c.features = f
	session := c.session
	c.mutex.Unlock()

	if session == nil || f.IsZero() {
		return nil
	}
	log.Info("requesting connection features...")
	return session.RequestFeatures(f)
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := c.runSession(ctx)

	var certErr *ExpiredCertificateError
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info("agent listener stopped")
	case errors.As(err, &certErr):
		log.Warning("expired certificate upon establishing agent connection")
		c.notify(events.ExpiredCertificate{})
	case isTimeoutErr(err):
		log.Warning("agent connection timed out: ", err)
		c.notify(events.Disconnected{Reason: err})
	default:
		c.notify(events.Disconnected{Reason: err})
		log.ErrorTrace(fmt.Errorf("agent listener unexpectedly closed: %w", err))
	}
}

func (c *Channel) runSession(ctx context.Context) error {
	session, err := c.factory()
	if err != nil {
		return fmt.Errorf("failed to create agent session: %w", err)
	}
	defer session.Close()

	c.setSession(session)
	defer c.setSession(nil)

	log.Info("establishing agent connection...")
	if err := session.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	log.Info("agent connection established")

	if features := c.featuresSnapshot(); !features.IsZero() {
		log.Info("requesting connection features...")
		if err := session.RequestFeatures(features); err != nil {
			return err
		}
	}

	log.Info("listening on agent connection...")
	for {
		status, err := session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsAPIError(err) {
				// the session survives gateway rejections
				c.notify(events.UnexpectedError{Reason: wrapFeatureError(err)})
				continue
			}
			return err
		}
		c.handleStatus(status)
	}
}

// handleStatus translates one agent status message into a connection event.
func (c *Channel) handleStatus(status Status) {
	log.Info("agent status received: ", status)

	switch status.State {
	case StateConnected:
		c.notify(events.Connected{})

	case StateHardJailed:
		switch {
		case status.Reason != nil && status.Reason.Code == ReasonCertificateExpired:
			c.notify(events.ExpiredCertificate{})
		case status.Reason != nil && status.Reason.Code.IsMaxSessions():
			c.notify(events.MaximumSessionsReached{})
		default:
			c.notify(events.UnexpectedError{Reason: statusErr(status)})
		}

	case StateDisconnected:
		if status.Reason != nil && status.Reason.Code == ReasonCertificateExpired {
			c.notify(events.ExpiredCertificate{})
		} else {
			c.notify(events.Timeout{Reason: statusErr(status)})
		}

	default:
		c.notify(events.UnexpectedError{Reason: statusErr(status)})
	}
}

func (c *Channel) notify(evt events.Event) {
	if c.notifier != nil {
		c.notifier.Notify(evt)
	}
}

func (c *Channel) setSession(session Session) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.session = session
}

func (c *Channel) featuresSnapshot() Features {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.features
}

func statusErr(status Status) error {
	return fmt.Errorf("agent reported status '%s'", status)
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
