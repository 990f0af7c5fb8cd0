package pricecache

import (
	"sync/atomic"
	"testing"

	"github.com/Wing9897/StockenBoard-sub000/internal/model"
)

func quote(symbol string, price float64, updated int64) model.AssetQuote {
	return model.AssetQuote{
		Symbol:      symbol,
		SourceID:    "binance",
		Price:       price,
		Currency:    "USD",
		LastUpdated: updated,
	}
}

func TestCache_DuplicateWriteNotifiesOnce(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	var notified atomic.Int32
	unsub := c.SubscribeKey(key, func(Entry) { notified.Add(1) })
	defer unsub()

	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50000, 1000)})
	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50000, 1000)})

	if got := notified.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}

	// A changed price notifies again.
	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50001, 1000)})
	if got := notified.Load(); got != 2 {
		t.Errorf("notifications = %d, want 2", got)
	}

	// Same price, newer timestamp is a change too.
	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50001, 2000)})
	if got := notified.Load(); got != 3 {
		t.Errorf("notifications = %d, want 3", got)
	}
}

func TestCache_ErrorValueMutualExclusion(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50000, 1000)})
	if _, ok := c.Error(key); ok {
		t.Error("no error expected after successful fetch")
	}

	c.ApplyFetchError("binance", map[string]string{"BTCUSDT": "rate limited"})

	// The error is retrievable and the stale quote survives.
	msg, ok := c.Error(key)
	if !ok || msg != "rate limited" {
		t.Errorf("Error() = %q, %v, want %q, true", msg, ok, "rate limited")
	}
	q, ok := c.Quote(key)
	if !ok || q.Price != 50000 {
		t.Errorf("Quote() = %+v, %v; stale quote must survive an error write", q, ok)
	}

	// The next successful fetch clears the error even if the value is
	// unchanged from before the failure.
	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50000, 1000)})
	if _, ok := c.Error(key); ok {
		t.Error("error must be cleared by a value write")
	}
}

func TestCache_RepeatedErrorNotifiesOnce(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	var notified atomic.Int32
	unsub := c.SubscribeKey(key, func(Entry) { notified.Add(1) })
	defer unsub()

	c.ApplyFetchError("binance", map[string]string{"BTCUSDT": "timeout"})
	c.ApplyFetchError("binance", map[string]string{"BTCUSDT": "timeout"})
	if got := notified.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}

	c.ApplyFetchError("binance", map[string]string{"BTCUSDT": "unauthorized"})
	if got := notified.Load(); got != 2 {
		t.Errorf("notifications = %d, want 2", got)
	}
}

func TestCache_ListenerIsolation(t *testing.T) {
	c := New(nil)
	keyA := Key{SourceID: "binance", Symbol: "BTCUSDT"}
	keyB := Key{SourceID: "binance", Symbol: "ETHUSDT"}

	var aNotified, bNotified atomic.Int32
	defer c.SubscribeKey(keyA, func(Entry) { aNotified.Add(1) })()
	defer c.SubscribeKey(keyB, func(Entry) { bNotified.Add(1) })()

	c.ApplyFetchResults("binance", []model.AssetQuote{quote("ETHUSDT", 3000, 1000)})

	if got := aNotified.Load(); got != 0 {
		t.Errorf("listener A notified %d times for a write to B", got)
	}
	if got := bNotified.Load(); got != 1 {
		t.Errorf("listener B notifications = %d, want 1", got)
	}
}

func TestCache_ListenerReceivesDetachedCopy(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	var seen atomic.Pointer[Entry]
	defer c.SubscribeKey(key, func(e Entry) { seen.Store(&e) })()

	c.ApplyFetchResults("binance", []model.AssetQuote{quote("BTCUSDT", 50000, 1000)})

	got := seen.Load()
	if got == nil || got.Quote == nil {
		t.Fatal("listener did not receive a quote")
	}
	if got.Quote.Price != 50000 || got.Err != "" {
		t.Errorf("listener saw %+v err=%q, want price 50000 and no error", got.Quote, got.Err)
	}

	// Mutating the delivered quote must not reach into the cache.
	got.Quote.Price = -1
	q, ok := c.Quote(key)
	if !ok || q.Price != 50000 {
		t.Errorf("Quote() = %+v, %v; cached value leaked to a listener", q, ok)
	}

	// An error write delivers the stale quote alongside the message.
	c.ApplyFetchError("binance", map[string]string{"BTCUSDT": "rate limited"})
	got = seen.Load()
	if got.Err != "rate limited" {
		t.Errorf("listener err = %q, want %q", got.Err, "rate limited")
	}
	if got.Quote == nil || got.Quote.Price != 50000 {
		t.Errorf("listener quote after error = %+v, want stale price 50000", got.Quote)
	}
}

func TestCache_StreamUpdateAlwaysNotifies(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	var notified atomic.Int32
	defer c.SubscribeKey(key, func(Entry) { notified.Add(1) })()

	u := model.StreamUpdate{SourceID: "binance", Symbol: "BTCUSDT", Quote: quote("BTCUSDT", 50000, 1000)}
	c.ApplyStreamUpdate(u)
	c.ApplyStreamUpdate(u) // identical, still notifies

	if got := notified.Load(); got != 2 {
		t.Errorf("notifications = %d, want 2", got)
	}
}

func TestCache_RecordTick(t *testing.T) {
	c := New(nil)

	var ticks []model.PollTick
	defer c.SubscribeTick("binance", func(t model.PollTick) { ticks = append(ticks, t) })()

	c.RecordTick("binance", 1000, 5000)
	c.RecordTick("binance", 1000, 5000) // unchanged, no notification
	c.RecordTick("binance", 2000, 5000)

	if len(ticks) != 2 {
		t.Fatalf("tick notifications = %d, want 2", len(ticks))
	}
	if ticks[1].FetchedAt != 2000 || ticks[1].IntervalMs != 5000 {
		t.Errorf("last tick = %+v", ticks[1])
	}
}

func TestCache_UnsubscribeReleasesKeySet(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	unsub1 := c.SubscribeKey(key, func(Entry) {})
	unsub2 := c.SubscribeKey(key, func(Entry) {})

	if got := c.Stats().KeyListeners; got != 2 {
		t.Fatalf("KeyListeners = %d, want 2", got)
	}

	unsub1()
	unsub1() // double unsubscribe is harmless
	unsub2()

	if got := c.Stats().KeyListeners; got != 0 {
		t.Errorf("KeyListeners = %d, want 0 after last unsubscribe", got)
	}
	if _, ok := c.keySubs[key]; ok {
		t.Error("listener set for key should be released")
	}
}

func TestCache_Retain(t *testing.T) {
	c := New(nil)

	c.ApplyFetchResults("binance", []model.AssetQuote{
		quote("BTCUSDT", 50000, 1000),
		quote("ETHUSDT", 3000, 1000),
	})
	c.RecordTick("binance", 1000, 5000)
	c.RecordTick("okx", 1000, 5000)

	c.Retain(
		map[Key]struct{}{{SourceID: "binance", Symbol: "BTCUSDT"}: {}},
		map[string]struct{}{"binance": {}},
	)

	if _, ok := c.Quote(Key{SourceID: "binance", Symbol: "BTCUSDT"}); !ok {
		t.Error("retained key should survive")
	}
	if _, ok := c.Quote(Key{SourceID: "binance", Symbol: "ETHUSDT"}); ok {
		t.Error("dropped key should be gone")
	}
	if _, ok := c.Tick("okx"); ok {
		t.Error("tick for inactive source should be gone")
	}
	if _, ok := c.Tick("binance"); !ok {
		t.Error("tick for active source should survive")
	}
}

func TestCache_ErrorForUnknownKeyKeepsNoQuote(t *testing.T) {
	c := New(nil)
	key := Key{SourceID: "binance", Symbol: "BTCUSDT"}

	c.ApplyFetchError("binance", map[string]string{"BTCUSDT": "down"})

	if _, ok := c.Quote(key); ok {
		t.Error("no quote should exist for an error-only key")
	}
	if msg, ok := c.Error(key); !ok || msg != "down" {
		t.Errorf("Error() = %q, %v", msg, ok)
	}
}
