package store

import (
	"sync"
	"testing"
	"time"

	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/leverage"
)

func TestStore_Empty(t *testing.T) {
	st := NewStore()

	if st.Leverages() != nil {
		t.Error("Expected no leverage set before publish")
	}
	if st.Orderbooks() != nil {
		t.Error("Expected no orderbook batch before publish")
	}
	if p := st.GetProgress(KindOrderbook); p != (Progress{}) {
		t.Errorf("Expected zero progress, got %+v", p)
	}
}

func TestStore_PublishLeveragesReplacesWholesale(t *testing.T) {
	st := NewStore()

	st.PublishLeverages(LeverageSet{
		RunID:   "a",
		Results: []leverage.Result{{Symbol: "BTC", Pair: "BTCUSDT", Leverage: 20}, {Symbol: "ETH", Pair: "ETHUSDT", Leverage: 10}},
	})
	first := st.Leverages()

	st.PublishLeverages(LeverageSet{RunID: "b", Results: []leverage.Result{{Symbol: "SOL", Pair: "SOLUSDT", Leverage: 5}}})
	second := st.Leverages()

	if second.RunID != "b" || len(second.Results) != 1 || second.Results[0].Symbol != "SOL" {
		t.Errorf("Expected second set to replace the first, got %+v", second)
	}
	if len(first.Results) != 2 {
		t.Errorf("Previously returned set must not be mutated, got %+v", first)
	}
	if second.Skipped == nil {
		t.Error("Expected non-nil skipped slice")
	}
}

func TestStore_OrderbookBatch(t *testing.T) {
	st := NewStore()
	now := time.Now()

	st.PublishOrderbooks(OrderbookBatch{
		RunID:     "r1",
		UpdatedAt: now,
		Snapshots: []gateway.Depth{{Symbol: "ETHUSDT"}, {Symbol: "BTCUSDT"}},
	})

	batch := st.Orderbooks()
	if !batch.UpdatedAt.Equal(now) {
		t.Errorf("Expected updated at %v, got %v", now, batch.UpdatedAt)
	}
	syms := batch.Symbols()
	if len(syms) != 2 || syms[0] != "BTCUSDT" || syms[1] != "ETHUSDT" {
		t.Errorf("Expected sorted symbols, got %v", syms)
	}

	var nilBatch *OrderbookBatch
	if nilBatch.Symbols() != nil {
		t.Error("Expected nil symbols for nil batch")
	}
}

func TestStore_Progress(t *testing.T) {
	st := NewStore()

	st.SetProgress(KindOrderbook, 3, 10, true)
	if p := st.GetProgress(KindOrderbook); p.Completed != 3 || p.Total != 10 || !p.Running {
		t.Errorf("Unexpected progress %+v", p)
	}
	if p := st.GetProgress(KindLeverage); p != (Progress{}) {
		t.Errorf("Kinds must be independent, got %+v", p)
	}

	st.ResetProgress(KindOrderbook)
	if p := st.GetProgress(KindOrderbook); p != (Progress{}) {
		t.Errorf("Expected (0,0) after reset, got %+v", p)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			st.SetProgress(KindOrderbook, n, 8, true)
			st.PublishOrderbooks(OrderbookBatch{Snapshots: []gateway.Depth{{Symbol: "BTCUSDT"}}})
		}(i)
		go func() {
			defer wg.Done()
			_ = st.GetProgress(KindOrderbook)
			_ = st.Orderbooks().Symbols()
		}()
	}
	wg.Wait()

	if st.Orderbooks() == nil {
		t.Error("Expected a published batch")
	}
}
