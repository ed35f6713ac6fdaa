package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(client, logger), mr
}

func TestClaimEvent_FirstWinsThenAlwaysLoses(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	won, err := e.ClaimEvent(ctx, "evt_1", "ticket_1", "3")
	if err != nil {
		t.Fatalf("ClaimEvent error: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}

	// Same event id loses no matter which resource or version it carries.
	variants := [][2]string{{"ticket_1", "3"}, {"ticket_9", "1"}, {"", ""}, {"ticket_1", ""}}
	for _, v := range variants {
		won, err := e.ClaimEvent(ctx, "evt_1", v[0], v[1])
		if err != nil {
			t.Fatalf("ClaimEvent error: %v", err)
		}
		if won {
			t.Errorf("repeat claim with resource=%q version=%q should lose", v[0], v[1])
		}
	}
}

func TestClaimEvent_SameResourceVersionDifferentEvents(t *testing.T) {
	e, mr := setupTestEngine(t)
	ctx := context.Background()

	first, _ := e.ClaimEvent(ctx, "evt_a", "ticket_1", "7")
	second, _ := e.ClaimEvent(ctx, "evt_b", "ticket_1", "7")

	if !first {
		t.Fatal("first event should win")
	}
	if second {
		t.Fatal("second event with same resource version should lose")
	}

	// A lost claim writes nothing.
	if mr.Exists(eventKey("evt_b")) {
		t.Error("losing claim must not leave an event ticket behind")
	}
}

func TestClaimEvent_NoVersionSkipsResourceTicket(t *testing.T) {
	e, mr := setupTestEngine(t)
	ctx := context.Background()

	if won, _ := e.ClaimEvent(ctx, "evt_a", "ticket_1", ""); !won {
		t.Fatal("claim should win")
	}
	if won, _ := e.ClaimEvent(ctx, "evt_b", "ticket_1", ""); !won {
		t.Fatal("without a version only the event ticket is required")
	}
	if len(mr.Keys()) != 2 {
		t.Errorf("expected 2 event tickets, got keys %v", mr.Keys())
	}
}

func TestClaimEvent_SetsTTL(t *testing.T) {
	e, mr := setupTestEngine(t)
	ctx := context.Background()

	e.ClaimEvent(ctx, "evt_ttl", "ticket_1", "1")

	if ttl := mr.TTL(eventKey("evt_ttl")); ttl != EventTicketTTL {
		t.Errorf("event ticket TTL = %v, want %v", ttl, EventTicketTTL)
	}
	if ttl := mr.TTL(resourceKey("ticket_1", "1")); ttl != EventTicketTTL {
		t.Errorf("resource ticket TTL = %v, want %v", ttl, EventTicketTTL)
	}
}

func TestClaimEvent_ConcurrentClaimsOneWinner(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := e.ClaimEvent(ctx, fmt.Sprintf("evt_%d", i), "ticket_race", "1")
			if err == nil && won {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins.Load())
	}
}

func TestReleaseEvent_AllowsReclaim(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	e.ClaimEvent(ctx, "evt_1", "ticket_1", "2")
	if err := e.ReleaseEvent(ctx, "evt_1", "ticket_1", "2"); err != nil {
		t.Fatalf("ReleaseEvent error: %v", err)
	}

	if won, _ := e.ClaimEvent(ctx, "evt_1", "ticket_1", "2"); !won {
		t.Error("claim should win again after release")
	}
}

func TestReleaseEvent_LeavesOtherOwnersAlone(t *testing.T) {
	e, mr := setupTestEngine(t)
	ctx := context.Background()

	e.ClaimEvent(ctx, "evt_owner", "ticket_1", "2")
	if err := e.ReleaseEvent(ctx, "evt_other", "ticket_1", "2"); err != nil {
		t.Fatalf("ReleaseEvent error: %v", err)
	}

	if !mr.Exists(resourceKey("ticket_1", "2")) {
		t.Error("release by a different event must not drop the owner's resource ticket")
	}
}

func TestClaimConnectorDelivery(t *testing.T) {
	e, mr := setupTestEngine(t)
	ctx := context.Background()

	if won, _ := e.ClaimConnectorDelivery(ctx, "csv-accounting", "evt_1"); !won {
		t.Fatal("first connector claim should win")
	}
	if won, _ := e.ClaimConnectorDelivery(ctx, "csv-accounting", "evt_1"); won {
		t.Fatal("second connector claim should lose")
	}
	if won, _ := e.ClaimConnectorDelivery(ctx, "tms-webhook", "evt_1"); !won {
		t.Fatal("claims are independent per connector")
	}
	if ttl := mr.TTL(connectorKey("csv-accounting", "evt_1")); ttl != ConnectorTicketTTL {
		t.Errorf("connector ticket TTL = %v, want %v", ttl, ConnectorTicketTTL)
	}

	if err := e.ReleaseConnectorDelivery(ctx, "csv-accounting", "evt_1"); err != nil {
		t.Fatalf("ReleaseConnectorDelivery error: %v", err)
	}
	if won, _ := e.ClaimConnectorDelivery(ctx, "csv-accounting", "evt_1"); !won {
		t.Error("released connector claim should be winnable again")
	}
}

func TestIntakeClaimIsSeparateFromEventClaim(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	if won, _ := e.ClaimIntake(ctx, "evt_1"); !won {
		t.Fatal("intake claim should win")
	}
	if won, _ := e.ClaimIntake(ctx, "evt_1"); won {
		t.Fatal("repeat intake claim should lose")
	}
	if won, _ := e.ClaimEvent(ctx, "evt_1", "", ""); !won {
		t.Fatal("worker event claim must not be blocked by the intake ticket")
	}

	e.ReleaseIntake(ctx, "evt_1")
	if won, _ := e.ClaimIntake(ctx, "evt_1"); !won {
		t.Error("intake claim should win after release")
	}
}
