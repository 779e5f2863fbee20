package copytrade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosminimum/polycopy/internal/domain"
)

const (
	feedWriteWait      = 10 * time.Second
	feedPongWait       = 60 * time.Second
	feedPingPeriod     = (feedPongWait * 9) / 10
	feedReconnectDelay = 2 * time.Second
	feedMaxReconnect   = 60 * time.Second
)

// EventHandler consumes one observed trade.
type EventHandler func(ctx context.Context, ev domain.TradeEvent)

// Feed connects to the venue's activity WebSocket, subscribes to fills by the
// followed trader wallets, and forwards each fill as a TradeEvent. It
// reconnects with exponential backoff on disconnect, and resubscribes when
// the followed wallet set changes.
type Feed struct {
	wsURL     string
	handler   EventHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
	resub     chan struct{}

	mu      sync.Mutex
	traders []string // normalized and sorted
}

// NewFeed creates a feed for the given trader wallets.
func NewFeed(wsURL string, traders []string, handler EventHandler, logger *slog.Logger) *Feed {
	f := &Feed{
		wsURL:   wsURL,
		handler: handler,
		logger:  logger.With(slog.String("component", "trade_feed")),
		done:    make(chan struct{}),
		resub:   make(chan struct{}, 1),
	}
	f.traders = normalizeTraders(traders)
	return f
}

func normalizeTraders(traders []string) []string {
	normalized := make([]string, len(traders))
	for i, t := range traders {
		normalized[i] = domain.NormalizeWallet(t)
	}
	slices.Sort(normalized)
	return normalized
}

// UpdateTraders replaces the followed wallet set, so a subscription created
// while running takes effect without a restart. A changed set drops the
// active connection and resubscribes.
func (f *Feed) UpdateTraders(traders []string) {
	normalized := normalizeTraders(traders)

	f.mu.Lock()
	changed := !slices.Equal(normalized, f.traders)
	if changed {
		f.traders = normalized
	}
	f.mu.Unlock()
	if !changed {
		return
	}

	f.logger.Info("followed trader set changed", slog.Int("traders", len(normalized)))
	select {
	case f.resub <- struct{}{}:
	default:
	}
}

func (f *Feed) snapshotTraders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.traders...)
}

// Run connects and consumes until ctx is cancelled or Close is called.
func (f *Feed) Run(ctx context.Context) error {
	delay := feedReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if len(f.snapshotTraders()) == 0 {
			f.logger.Info("no trader wallets to follow, feed waiting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.done:
				return nil
			case <-f.resub:
			}
			continue
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("trade feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > feedMaxReconnect {
			delay = feedMaxReconnect
		}
	}
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("copytrade: feed connect: %w", err)
	}
	defer conn.Close()

	traders := f.snapshotTraders()
	sub := map[string]any{
		"type":    "subscribe",
		"channel": "trades",
		"wallets": traders,
	}
	conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("copytrade: feed subscribe: %w", err)
	}
	f.logger.Info("trade feed subscribed", slog.Int("traders", len(traders)))

	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	// The read loop owns the connection; ping and cancellation run beside it
	// and unblock the read by closing the connection.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-f.done:
				conn.Close()
				return
			case <-f.resub:
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("copytrade: feed read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

// tradeMessage is the venue's activity-feed fill. Numeric fields arrive as
// decimal strings.
type tradeMessage struct {
	EventType       string `json:"event_type"`
	TransactionHash string `json:"transactionHash"`
	ProxyWallet     string `json:"proxyWallet"`
	ConditionID     string `json:"conditionId"`
	Outcome         string `json:"outcome"`
	Asset           string `json:"asset"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	Timestamp       int64  `json:"timestamp"`
}

func (f *Feed) handleMessage(ctx context.Context, raw []byte) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // drop unparseable frames
	}
	if msg.EventType != "" && msg.EventType != "trade" {
		return
	}
	if msg.Asset == "" || msg.ProxyWallet == "" {
		return
	}

	side := domain.OrderSideBuy
	if msg.Side == "SELL" || msg.Side == "sell" {
		side = domain.OrderSideSell
	}

	price, _ := strconv.ParseFloat(msg.Price, 64)
	size, _ := strconv.ParseFloat(msg.Size, 64)
	if price <= 0 || size <= 0 {
		return
	}

	ev := domain.TradeEvent{
		// One transaction can fill several assets; the pair is unique.
		ID:           msg.TransactionHash + ":" + msg.Asset,
		TraderWallet: domain.NormalizeWallet(msg.ProxyWallet),
		ConditionID:  msg.ConditionID,
		Outcome:      msg.Outcome,
		TokenID:      msg.Asset,
		Side:         side,
		Price:        price,
		Size:         size,
		Timestamp:    time.Unix(msg.Timestamp, 0).UTC(),
	}
	f.handler(ctx, ev)
}
