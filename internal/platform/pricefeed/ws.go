package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// reconnectDelay is the pause between websocket reconnect attempts.
const reconnectDelay = 2 * time.Second

// WSFeed subscribes to the price API's websocket stream for a set of asset
// IDs and writes each tick into the price cache. It reconnects with a fixed
// delay on disconnect and stops when its context is cancelled.
type WSFeed struct {
	wsURL    string
	assetIDs []string
	cache    domain.PriceCache
	logger   *slog.Logger
}

// NewWSFeed creates a feed that keeps cache warm for the given asset IDs.
func NewWSFeed(wsURL string, assetIDs []string, cache domain.PriceCache, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		cache:    cache,
		logger:   logger.With(slog.String("component", "pricefeed_ws")),
	}
}

// subscribeMessage is the stream subscription request.
type subscribeMessage struct {
	Op  string   `json:"op"`
	IDs []string `json:"ids"`
}

// tickMessage is one streamed price update.
type tickMessage struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
	TS    int64   `json:"ts"` // unix millis
}

// Run connects and consumes ticks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.InfoContext(ctx, "no assets to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "price stream disconnected, reconnecting",
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// runConnection holds one websocket session: subscribe, then read ticks
// until the connection drops or ctx is cancelled.
func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pricefeed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", IDs: f.assetIDs}); err != nil {
		return fmt.Errorf("pricefeed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "price stream connected", slog.Int("assets", len(f.assetIDs)))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("pricefeed: read: %w", err)
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil || tick.ID == "" {
			continue // keep-alives and unknown frames
		}

		ts := time.UnixMilli(tick.TS).UTC()
		if tick.TS == 0 {
			ts = time.Now().UTC()
		}
		if err := f.cache.SetPrice(ctx, tick.ID, tick.Price, ts); err != nil {
			f.logger.DebugContext(ctx, "price cache write failed",
				slog.String("asset_id", tick.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
