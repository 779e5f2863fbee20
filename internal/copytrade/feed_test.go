package copytrade

import (
	"context"
	"log/slog"
	"testing"

	"github.com/cosminimum/polycopy/internal/domain"
)

func collectFeed(t *testing.T) (*Feed, *[]domain.TradeEvent) {
	t.Helper()
	var events []domain.TradeEvent
	f := NewFeed("wss://example.invalid/ws", []string{"0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"},
		func(ctx context.Context, ev domain.TradeEvent) {
			events = append(events, ev)
		}, slog.New(slog.DiscardHandler))
	return f, &events
}

func TestHandleMessageParsesFill(t *testing.T) {
	f, events := collectFeed(t)

	raw := []byte(`{
		"event_type": "trade",
		"transactionHash": "0xdeadbeef",
		"proxyWallet": "0xCCcCCccCcCCCcCcCcCcCCCcCcCCCcCCCcCCcCCCc",
		"conditionId": "cond-1",
		"outcome": "Yes",
		"asset": "tok-1",
		"side": "BUY",
		"price": "0.42",
		"size": "100.5",
		"timestamp": 1700000000
	}`)
	f.handleMessage(context.Background(), raw)

	if len(*events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(*events))
	}
	ev := (*events)[0]
	if ev.ID != "0xdeadbeef:tok-1" {
		t.Fatalf("expected tx:asset id, got %q", ev.ID)
	}
	if ev.TraderWallet != "0xcccccccccccccccccccccccccccccccccccccccc" {
		t.Fatalf("wallet must be normalized, got %q", ev.TraderWallet)
	}
	if ev.Side != domain.OrderSideBuy {
		t.Fatalf("expected BUY, got %s", ev.Side)
	}
	if ev.Price != 0.42 || ev.Size != 100.5 {
		t.Fatalf("unexpected numbers: %f / %f", ev.Price, ev.Size)
	}
	if ev.Timestamp.Unix() != 1700000000 {
		t.Fatalf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestHandleMessageDropsJunk(t *testing.T) {
	f, events := collectFeed(t)

	frames := [][]byte{
		[]byte(`not json`),
		[]byte(`{"event_type":"comment","asset":"tok-1","proxyWallet":"0xcc"}`),
		[]byte(`{"event_type":"trade","asset":"","proxyWallet":"0xcc","price":"0.5","size":"1"}`),
		[]byte(`{"event_type":"trade","asset":"tok-1","proxyWallet":"0xcc","price":"0","size":"10"}`),
		[]byte(`{"event_type":"trade","asset":"tok-1","proxyWallet":"0xcc","price":"0.5","size":"-2"}`),
	}
	for _, raw := range frames {
		f.handleMessage(context.Background(), raw)
	}
	if len(*events) != 0 {
		t.Fatalf("junk frames must be dropped, got %d events", len(*events))
	}
}

func TestHandleMessageSellSide(t *testing.T) {
	f, events := collectFeed(t)

	raw := []byte(`{"event_type":"trade","transactionHash":"0x1","asset":"tok-1","proxyWallet":"0xcc","side":"sell","price":"0.5","size":"10","timestamp":1700000000}`)
	f.handleMessage(context.Background(), raw)

	if len(*events) != 1 || (*events)[0].Side != domain.OrderSideSell {
		t.Fatalf("expected one SELL event, got %+v", *events)
	}
}

func TestUpdateTradersReplacesFollowedSet(t *testing.T) {
	f, _ := collectFeed(t)

	f.UpdateTraders([]string{
		"0xBBbBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbBb",
		"0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa",
	})

	got := f.snapshotTraders()
	want := []string{
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected normalized sorted set %v, got %v", want, got)
	}

	select {
	case <-f.resub:
	default:
		t.Fatal("a changed set must signal a resubscribe")
	}
}

func TestUpdateTradersIgnoresUnchangedSet(t *testing.T) {
	f, _ := collectFeed(t)

	// Same single wallet, different case: normalizes to the current set.
	f.UpdateTraders([]string{"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})

	select {
	case <-f.resub:
		t.Fatal("an unchanged set must not force a reconnect")
	default:
	}
}
