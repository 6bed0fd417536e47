package llm

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/mikeboe/deep-research/pkg/cache"
)

// Cached serves repeated requests from a cache.Store. Cache read and write
// failures are logged and never fail the call.
type Cached struct {
	Model  Model
	Store  cache.Store
	Logger *slog.Logger
}

// WithCache wraps m when store is non-nil.
func WithCache(m Model, store cache.Store) Model {
	if store == nil {
		return m
	}
	return &Cached{Model: m, Store: store, Logger: slog.Default()}
}

func (c *Cached) Name() string { return c.Model.Name() }

func (c *Cached) Generate(ctx context.Context, req Request) (string, error) {
	key := cache.KeyFrom(c.Model.Name(), strconv.FormatBool(req.JSON)+"\n"+req.System+"\n\n"+req.Prompt)

	if raw, ok, err := c.Store.Get(ctx, key); err != nil {
		c.logger().Warn("LLM cache read failed", "error", err)
	} else if ok {
		return string(raw), nil
	}

	out, err := c.Model.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if err := c.Store.Save(ctx, key, []byte(out)); err != nil {
		c.logger().Warn("LLM cache write failed", "error", err)
	}
	return out, nil
}

func (c *Cached) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
