// Package client composes the session and notification consistency core:
// identity stores feeding the session manager, the session gating the
// push channel, the channel and REST fetches reconciled into one
// canonical set, mutations serialized by the sequencer, and the
// forbidden cascade resetting all of it.
package client

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/confscout/go-client/api"
	"github.com/confscout/go-client/cascade"
	"github.com/confscout/go-client/channel"
	"github.com/confscout/go-client/identity/store"
	"github.com/confscout/go-client/internal/config"
	clienterrors "github.com/confscout/go-client/internal/errors"
	"github.com/confscout/go-client/notifications"
	"github.com/confscout/go-client/notifications/cache"
	"github.com/confscout/go-client/session"
)

// Core is the assembled client core. Components are exported for the
// surrounding application to read; mutation goes through each
// component's own operations.
type Core struct {
	Config    *config.Config
	API       *api.Client
	Sessions  *session.Manager
	Channel   *channel.Channel
	Set       *notifications.Set
	Sequencer *notifications.Sequencer
	Cascade   *cascade.Handler
	Cache     *cache.Cache

	onNotify func(notifications.Notification)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option modifies Core assembly.
type Option func(*assembly)

type assembly struct {
	navigate  cascade.Navigator
	transport channel.Transport
	stores    store.Store
	onNotify  func(notifications.Notification)
}

// WithNavigator sets where cascade navigation goes (the application's
// router). Defaults to a no-op.
func WithNavigator(nav cascade.Navigator) Option {
	return func(a *assembly) { a.navigate = nav }
}

// WithTransport overrides the push transport (primarily for testing).
func WithTransport(t channel.Transport) Option {
	return func(a *assembly) { a.transport = t }
}

// WithIdentityStore overrides the identity store adapter (primarily for
// testing).
func WithIdentityStore(s store.Store) Option {
	return func(a *assembly) { a.stores = s }
}

// WithOnNotification registers a callback for each newly reconciled
// push notification. Runs on the drain goroutine; keep it short.
func WithOnNotification(fn func(notifications.Notification)) Option {
	return func(a *assembly) { a.onNotify = fn }
}

// New assembles the core from configuration.
func New(cfg *config.Config, options ...Option) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("[client.New] config is required")
	}

	var asm assembly
	for _, opt := range options {
		opt(&asm)
	}

	identityStore := asm.stores
	if identityStore == nil {
		durable, err := store.NewDurableStore(cfg.StateDir)
		if err != nil {
			return nil, errors.Wrap(err, "[client.New] durable store")
		}
		identityStore = store.NewAdapter(durable, store.NewCookieStore(cfg.StateDir))
	}

	core := &Core{Config: cfg, Set: notifications.NewSet(), onNotify: asm.onNotify}

	core.API = api.NewClient(cfg.BaseURL, cfg.HTTPTimeout, func() string {
		if core.Sessions == nil {
			return ""
		}
		return core.Sessions.Credential()
	})

	manager, err := session.NewManager(identityStore, core.API, session.WithVerifyTimeout(cfg.VerifyTimeout))
	if err != nil {
		return nil, errors.Wrap(err, "[client.New] session manager")
	}
	core.Sessions = manager

	transport := asm.transport
	if transport == nil {
		transport = channel.NewSSETransport(cfg.StreamURL)
	}
	core.Channel = channel.New(transport)

	sequencer, err := notifications.NewSequencer(core.Set, core.API,
		notifications.WithGenerationSource(manager.Generation))
	if err != nil {
		return nil, errors.Wrap(err, "[client.New] sequencer")
	}
	core.Sequencer = sequencer

	if cfg.CacheEnabled {
		c, err := cache.Open(filepath.Join(cfg.StateDir, "notifications.db"))
		if err != nil {
			// The cache is an accelerant, not a dependency.
			log.Warn().Err(err).Msg("offline notification cache unavailable")
		} else {
			core.Cache = c
		}
	}

	var cacheClearer cascade.Clearer
	if core.Cache != nil {
		cacheClearer = core.Cache
	}
	core.Cascade = cascade.New(manager, core.Channel, core.Set, cacheClearer, asm.navigate)

	// Every component's 403 funnels into the one forbidden signal.
	core.Sequencer.OnForbidden = func() { core.Cascade.Trigger(false) }
	core.Channel.OnForbidden = func() { core.Cascade.Trigger(false) }

	return core, nil
}

// Start resolves the session, seeds the set from the offline cache, and
// launches the background loops. Returns after initialization has
// resolved; the loops run until ctx ends or Close is called.
func (c *Core) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// Stale placeholder until the first authoritative fetch.
	if c.Cache != nil {
		if cached, err := c.Cache.Load(runCtx); err != nil {
			log.Warn().Err(err).Msg("loading offline notification cache")
		} else if len(cached) > 0 {
			c.Set.ReplaceAll(cached)
		}
	}

	channelEvents, cancelChannelSub := c.Sessions.Subscribe()
	cascadeEvents, cancelCascadeSub := c.Sessions.Subscribe()
	refetchEvents, cancelRefetchSub := c.Sessions.Subscribe()

	c.wg.Add(4)
	go func() {
		defer c.wg.Done()
		defer cancelChannelSub()
		c.Channel.Run(runCtx, channelEvents)
	}()
	go func() {
		defer c.wg.Done()
		defer cancelCascadeSub()
		c.Cascade.Run(runCtx, cascadeEvents)
	}()
	go func() {
		defer c.wg.Done()
		defer cancelRefetchSub()
		c.refetchLoop(runCtx, refetchEvents)
	}()
	go func() {
		defer c.wg.Done()
		c.drainChannel(runCtx)
	}()

	err := c.Sessions.Initialize(runCtx)
	if err != nil && clienterrors.Is(err, clienterrors.ErrForbidden) {
		c.Cascade.Trigger(false)
		return nil
	}
	return err
}

// Close stops the background loops and releases local resources.
func (c *Core) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			log.Debug().Err(err).Msg("closing notification cache")
		}
	}
}

// Refresh performs a full authoritative fetch and replaces the canonical
// set. Discards the response when the session turned over mid-flight.
func (c *Core) Refresh(ctx context.Context) error {
	generation := c.Sessions.Generation()

	list, err := c.API.ListNotifications(ctx)
	if err != nil {
		if clienterrors.Is(err, clienterrors.ErrForbidden) {
			c.Cascade.Trigger(false)
		}
		return errors.Wrap(err, "[Core.Refresh]")
	}

	if c.Sessions.Generation() != generation {
		return clienterrors.Wrapf(clienterrors.ErrStaleResponse, "[Core.Refresh]")
	}

	c.Set.ReplaceAll(list)
	c.persist(ctx)
	return nil
}

// Apply runs one mutation through the sequencer and, when it commits,
// writes the result through to the offline cache.
func (c *Core) Apply(ctx context.Context, op notifications.Op, targetIDs []string) error {
	if err := c.Sequencer.Apply(ctx, op, targetIDs); err != nil {
		return err
	}
	c.persist(ctx)
	return nil
}

// MarkViewed marks a notification read on detail view, through the same
// sequencer path as explicit actions.
func (c *Core) MarkViewed(ctx context.Context, id string) error {
	if err := c.Sequencer.MarkViewed(ctx, id); err != nil {
		return err
	}
	c.persist(ctx)
	return nil
}

// refetchLoop runs a full refetch on every session establishment, so the
// set is rebuilt from authoritative state after sign-in and
// re-verification.
func (c *Core) refetchLoop(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.LoggedIn {
				c.Set.Clear()
				continue
			}
			if err := c.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("notification refetch failed")
			}
		}
	}
}

// drainChannel reconciles pushed notifications into the canonical set.
func (c *Core) drainChannel(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-c.Channel.Events():
			if !ok {
				return
			}
			if c.Set.Upsert(n) {
				c.persist(ctx)
				if c.onNotify != nil {
					c.onNotify(n)
				}
			}
		}
	}
}

// persist writes the canonical visible state through to the offline
// cache.
func (c *Core) persist(ctx context.Context) {
	if c.Cache == nil {
		return
	}
	if err := c.Cache.ReplaceAll(ctx, c.Set.Filter(notifications.ViewAll, "")); err != nil {
		log.Warn().Err(err).Msg("persisting notification cache")
	}
}
