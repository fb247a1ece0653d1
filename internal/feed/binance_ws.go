package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okarpov/imbalancer/internal/domain"
)

// CandleHandler is called for each closed kline received from the stream.
type CandleHandler func(ctx context.Context, c domain.Candle)

// BinanceWS streams klines for one symbol from the Binance WebSocket API and
// invokes the handler on every closed kline. It reconnects on disconnect.
type BinanceWS struct {
	wsHost    string
	symbol    string
	interval  string
	onCandle  CandleHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewBinanceWS creates a feed for the given symbol and kline interval
// (e.g. "1m").
func NewBinanceWS(wsHost, symbol, interval string, onCandle CandleHandler, logger *slog.Logger) *BinanceWS {
	return &BinanceWS{
		wsHost:   wsHost,
		symbol:   symbol,
		interval: interval,
		onCandle: onCandle,
		logger:   logger.With(slog.String("component", "binance_ws_feed")),
		done:     make(chan struct{}),
	}
}

// klineEvent is the wire shape of a Binance kline stream message.
type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		StartTime int64  `json:"t"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// Run connects and reads klines until ctx is cancelled or Close is called.
// Reconnects with backoff on disconnect.
func (f *BinanceWS) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("binance ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *BinanceWS) runConnection(ctx context.Context) error {
	url := fmt.Sprintf("%s/ws/%s@kline_%s", f.wsHost, strings.ToLower(f.symbol), f.interval)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", url, err)
	}
	defer conn.Close()

	f.logger.Info("binance ws connected",
		slog.String("symbol", f.symbol),
		slog.String("interval", f.interval),
	)

	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}

		var ev klineEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			f.logger.Warn("unparseable kline message", slog.String("error", err.Error()))
			continue
		}
		if ev.EventType != "kline" || !ev.Kline.Closed {
			continue
		}

		candle, err := ev.toCandle()
		if err != nil {
			f.logger.Warn("bad kline values", slog.String("error", err.Error()))
			continue
		}
		f.onCandle(ctx, candle)
	}
}

func (e klineEvent) toCandle() (domain.Candle, error) {
	high, err := strconv.ParseFloat(e.Kline.High, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse high: %w", err)
	}
	low, err := strconv.ParseFloat(e.Kline.Low, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse low: %w", err)
	}
	volume, err := strconv.ParseFloat(e.Kline.Volume, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse volume: %w", err)
	}
	return domain.Candle{
		Time:   time.UnixMilli(e.Kline.StartTime).UTC(),
		High:   high,
		Low:    low,
		Volume: volume,
	}, nil
}

// Close stops the feed.
func (f *BinanceWS) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
