// Package screeps exposes the named API operations used by the stats collector.
// Every operation returns an absent result (nil, "" or false) when the request
// timed out or failed; the details are only in the log.
package screeps

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"screepsapi/internal/envelope"
	"screepsapi/internal/models"
	"screepsapi/internal/request"
	"screepsapi/internal/urlutil"
)

// DefaultStatsPath is the memory path read when none is given.
const DefaultStatsPath = "stats"

var errNotString = errors.New("data field is not a string")

// HostWaiter blocks until the private host is known. *discovery.HostCell satisfies it.
type HostWaiter interface {
	Wait(ctx context.Context) (string, error)
}

// Executor runs a request descriptor. *request.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, d *models.RequestDescriptor) models.Outcome
}

// Client composes the request builder and executor for specific endpoints.
type Client struct {
	builder *request.Builder
	exec    Executor
	hosts   HostWaiter
	log     *zap.Logger
}

// NewClient creates a Client.
func NewClient(builder *request.Builder, exec Executor, hosts HostWaiter, log *zap.Logger) *Client {
	return &Client{builder: builder, exec: exec, hosts: hosts, log: log}
}

// do waits for the private host when needed, then builds and executes the request.
// It returns nil unless the request completed with a response.
func (c *Client) do(ctx context.Context, target models.Target, path, method string, body any) *models.Response {
	if target.Kind == models.KindPrivate {
		if _, err := c.hosts.Wait(ctx); err != nil {
			c.log.Debug("gave up waiting for private host", zap.String("path", path), zap.Error(err))
			return nil
		}
	}
	d, err := c.builder.Build(target, path, method, body)
	if err != nil {
		c.log.Error("failed to build request", zap.String("path", path), zap.Error(err))
		return nil
	}
	out := c.exec.Execute(ctx, d)
	if !out.OK() {
		return nil
	}
	return out.Response
}

// Authenticate signs in to the private server and returns the session token.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, bool) {
	target := models.Target{Kind: models.KindPrivate, Username: username}
	body := map[string]string{"email": username, "password": password}
	resp := c.do(ctx, target, "/api/auth/signin", http.MethodPost, body)
	if resp == nil {
		return "", false
	}
	token, ok := resp.Field("token")
	if !ok {
		return "", false
	}
	s, ok := token.(string)
	return s, ok && s != ""
}

// FetchMemorySnapshot reads a memory path of the target's account on a shard and
// decodes the envelope in its data field. An empty path reads DefaultStatsPath.
// A nil value with a nil error means no data was available; a decoding failure is
// returned as an *envelope.DecodeError.
func (c *Client) FetchMemorySnapshot(ctx context.Context, target models.Target, shard, path string) (any, error) {
	if path == "" {
		path = DefaultStatsPath
	}
	resp := c.do(ctx, target, urlutil.Endpoint("/api/user/memory", "path", path, "shard", shard), http.MethodGet, nil)
	if resp == nil {
		return nil, nil
	}
	data, ok := resp.Field("data")
	if !ok || data == nil {
		return nil, nil
	}
	s, ok := data.(string)
	if !ok {
		return nil, &envelope.DecodeError{Stage: "field", Err: errNotString}
	}
	return envelope.Decode(s)
}

// FetchUserInfo returns the account details of the authenticated user.
func (c *Client) FetchUserInfo(ctx context.Context, target models.Target) *models.Response {
	return c.do(ctx, target, "/api/auth/me", http.MethodGet, nil)
}

// FetchLeaderboardEntry returns the world leaderboard entry of the target's user.
func (c *Client) FetchLeaderboardEntry(ctx context.Context, target models.Target) *models.Response {
	path := urlutil.Endpoint("/api/leaderboard/find", "username", target.Username, "mode", "world")
	return c.do(ctx, target, path, http.MethodGet, nil)
}

// FetchGlobalUserStats returns the public server's user statistics.
func (c *Client) FetchGlobalUserStats(ctx context.Context) *models.Response {
	return c.do(ctx, models.Target{Kind: models.KindPublic}, "/api/stats/users", http.MethodGet, nil)
}

// FetchGlobalRoomObjects returns the public server's room object statistics.
func (c *Client) FetchGlobalRoomObjects(ctx context.Context) *models.Response {
	return c.do(ctx, models.Target{Kind: models.KindPublic}, "/api/stats/rooms/objects", http.MethodGet, nil)
}
