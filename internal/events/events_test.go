package events

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictrader/engine/internal/broker"
)

func TestBus_PublishTradeClosedDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.SubscribeTradeClosed("decisionlog", 4)
	defer unsub()

	bus.PublishTradeClosed(context.Background(), TradeClosed{
		Ticket: "t1", Symbol: "EURUSD", Profit: decimal.NewFromFloat(12.5), ClosedAt: time.Now(),
	})

	select {
	case ev := <-ch:
		assert.Equal(t, "t1", ev.Ticket)
		assert.True(t, ev.Profit.Equal(decimal.NewFromFloat(12.5)))
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published event")
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus()
	chA, unsubA := bus.SubscribeTradeOpened("equity", 1)
	chB, unsubB := bus.SubscribeTradeOpened("lossstreak", 1)
	defer unsubA()
	defer unsubB()

	bus.PublishTradeOpened(context.Background(), TradeOpened{Ticket: "t2", Symbol: "GBPUSD", Direction: broker.DirectionSell})

	for _, ch := range []<-chan TradeOpened{chA, chB} {
		select {
		case ev := <-ch:
			assert.Equal(t, "t2", ev.Ticket)
		case <-time.After(time.Second):
			t.Fatal("a subscriber did not receive the published event")
		}
	}
}

func TestBus_UnsubscribeStopsFurtherDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.SubscribeTradeClosed("decisionlog", 1)

	unsub()
	bus.PublishTradeClosed(context.Background(), TradeClosed{Ticket: "t3"})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBus_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	go func() {
		bus.PublishTradeClosed(context.Background(), TradeClosed{Ticket: "t4"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish with no subscribers should return immediately")
	}
}

func TestBus_SlowSubscriberDropsRatherThanBlocksPublisher(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.SubscribeTradeClosed("slow", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		bus.PublishTradeClosed(context.Background(), TradeClosed{Ticket: "first"})
		bus.PublishTradeClosed(context.Background(), TradeClosed{Ticket: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber channel")
	}

	ev := <-ch
	require.NotEmpty(t, ev.Ticket)
}

func TestBus_TopicSubscribersAreIndependent(t *testing.T) {
	bus := NewBus()
	openedCh, unsubOpened := bus.SubscribeTradeOpened("x", 1)
	closedCh, unsubClosed := bus.SubscribeTradeClosed("x", 1)
	defer unsubOpened()
	defer unsubClosed()

	bus.PublishTradeOpened(context.Background(), TradeOpened{Ticket: "opened-only"})

	select {
	case ev := <-openedCh:
		assert.Equal(t, "opened-only", ev.Ticket)
	case <-time.After(time.Second):
		t.Fatal("opened subscriber should have received the event")
	}

	select {
	case <-closedCh:
		t.Fatal("closed subscriber must not receive a TradeOpened publish")
	case <-time.After(50 * time.Millisecond):
	}
}
