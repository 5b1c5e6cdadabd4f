// Package client wires the save coordinator for a game process: one local
// store, one remote client, one connectivity monitor and one offline queue.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"savesync/auth"
	"savesync/config"
	"savesync/connectivity"
	"savesync/core"
	"savesync/queue"
	"savesync/service"
	"savesync/stores"
	"savesync/stores/remote"
	"savesync/stores/remote/httpapi"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const healthPath = "/healthz"

// Client is a running save coordinator. The embedded SaveService is the
// game-facing API.
type Client struct {
	*service.SaveService

	Auth    *auth.TokenAuth
	Monitor *connectivity.Monitor
	Queue   *queue.Queue

	cancel    context.CancelFunc
	stopDrain func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open builds the collaborators from cfg and starts the connectivity prober.
// Without a server URL the client stays offline and every save is local.
func Open(ctx context.Context, cfg *config.Config, opts ...service.Option) (*Client, error) {
	tokenAuth, err := auth.NewTokenAuth(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		Auth:    tokenAuth,
		Monitor: connectivity.NewMonitor(false),
		cancel:  cancel,
	}

	local := stores.GetLocalStore(cfg.Local)

	var remoteStore core.RemoteStore
	serverURL := strings.TrimRight(cfg.ServerURL, "/")
	if serverURL != "" {
		rows := httpapi.NewClient(serverURL, tokenAuth.TokenSource(),
			httpapi.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
		remoteStore = remote.NewStore(rows)
	}

	// The queue delivers through the coordinator's cloud path, so it is
	// handed a sender that resolves the coordinator lazily.
	var svc *service.SaveService
	c.Queue = queue.New(cfg.QueuePath, queue.SenderFunc(func(ctx context.Context, data *core.SaveData, slot, name string) error {
		return svc.SaveToCloud(ctx, data, slot, name)
	}))
	svc = service.New(local, remoteStore, tokenAuth, c.Monitor, append(opts, service.WithQueue(c.Queue))...)
	c.SaveService = svc

	c.stopDrain = c.Queue.DrainOnReconnect(ctx, c.Monitor)

	if serverURL != "" {
		prober := connectivity.NewProber(serverURL+healthPath, c.Monitor, cfg.ProbeInterval)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			prober.Run(ctx)
		}()
	}

	logrus.WithFields(logrus.Fields{
		"server":        serverURL,
		"authenticated": tokenAuth.IsAuthenticated(),
	}).Info("Save client started")
	return c, nil
}

// SignIn replaces the held token and, when the server is reachable, replays
// whatever was queued while signed out.
func (c *Client) SignIn(ctx context.Context, token string) (core.DrainResult, error) {
	if err := c.Auth.SetToken(token); err != nil {
		return core.DrainResult{}, err
	}
	if !c.Monitor.IsOnline() {
		return core.DrainResult{}, nil
	}
	return c.Queue.Drain(ctx), nil
}

func (c *Client) SignOut() {
	c.Auth.Clear()
}

// Close cancels and waits for a running reconnect drain, stops the prober
// and releases the queue. It is safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stopDrain()
		c.cancel()
		c.wg.Wait()
		err = c.Queue.Close()
		logrus.Info("Save client stopped")
	})
	return err
}
