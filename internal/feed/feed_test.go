package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

type fakeSource struct {
	events  []store.ChangeEvent
	offsets map[string]store.FeedOffset
	listErr error
	lists   int
}

func newFakeSource(n int) *fakeSource {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{offsets: map[string]store.FeedOffset{}}
	for i := 0; i < n; i++ {
		src.events = append(src.events, store.ChangeEvent{
			EventID:   string(rune('a' + i)),
			ReportID:  "r1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return src
}

func (f *fakeSource) ListChangeEvents(ctx context.Context, after store.FeedOffset, limit int) ([]store.ChangeEvent, error) {
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.ChangeEvent
	for _, event := range f.events {
		if after.After(event) {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) GetOffset(ctx context.Context, consumer string) (store.FeedOffset, error) {
	return f.offsets[consumer], nil
}

func (f *fakeSource) UpdateOffset(ctx context.Context, consumer string, offset store.FeedOffset) error {
	f.offsets[consumer] = offset
	return nil
}

func ids(seq func(func(ChangeEvent) bool), limit int) []string {
	var out []string
	for event := range seq {
		out = append(out, event.EventID)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func TestStreamIsLazyAndRestartable(t *testing.T) {
	src := newFakeSource(5)
	seq := Stream(context.Background(), src, Options{Consumer: "router", BatchSize: 2})
	if src.lists != 0 {
		t.Fatalf("stream must not read before ranging")
	}

	first := ids(seq, 3)
	if len(first) != 3 || first[0] != "a" || first[2] != "c" {
		t.Fatalf("unexpected first range %v", first)
	}
	rest := ids(seq, 0)
	if len(rest) != 2 || rest[0] != "d" || rest[1] != "e" {
		t.Fatalf("second range should resume after c, got %v", rest)
	}
	if again := ids(seq, 0); len(again) != 0 {
		t.Fatalf("drained feed should yield nothing, got %v", again)
	}
}

func TestStreamConsumersAreIndependent(t *testing.T) {
	src := newFakeSource(3)
	ids(Stream(context.Background(), src, Options{Consumer: "router"}), 0)

	hub := ids(Stream(context.Background(), src, Options{Consumer: "hub"}), 0)
	if len(hub) != 3 {
		t.Fatalf("second consumer should see every event, got %v", hub)
	}
}

func TestStreamFollowStopsOnCancel(t *testing.T) {
	src := newFakeSource(1)
	ctx, cancel := context.WithCancel(context.Background())
	seq := Stream(ctx, src, Options{Consumer: "router", Follow: true, PollInterval: time.Millisecond})

	done := make(chan []string)
	go func() {
		var got []string
		for event := range seq {
			got = append(got, event.EventID)
			cancel()
		}
		done <- got
	}()

	select {
	case got := <-done:
		if len(got) != 1 {
			t.Fatalf("expected one event, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop after cancel")
	}
}

func TestStreamEndsOnErrorWithoutFollow(t *testing.T) {
	src := newFakeSource(2)
	src.listErr = errors.New("db down")
	if got := ids(Stream(context.Background(), src, Options{}), 0); len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestScopeAllows(t *testing.T) {
	claimed := store.ChangeEvent{HotelID: "h1", AgentID: "a1", FromStatus: models.StatusNew, ToStatus: models.StatusAssigned}
	created := store.ChangeEvent{HotelID: "h1", ToStatus: models.StatusNew}
	cancelled := store.ChangeEvent{HotelID: "h1", PrevAgentID: "a1", FromStatus: models.StatusAssigned, ToStatus: models.StatusCancelled}

	cases := []struct {
		name  string
		scope Scope
		event store.ChangeEvent
		want  bool
	}{
		{"admin sees all", Scope{Role: models.RoleAdmin}, claimed, true},
		{"owner hotel", Scope{Role: models.RoleHotel, ProfileID: "h1"}, claimed, true},
		{"other hotel", Scope{Role: models.RoleHotel, ProfileID: "h2"}, claimed, false},
		{"hotel without profile", Scope{Role: models.RoleHotel}, claimed, false},
		{"assigned agent", Scope{Role: models.RoleAgent, ProfileID: "a1"}, claimed, true},
		{"other agent", Scope{Role: models.RoleAgent, ProfileID: "a2"}, claimed, false},
		{"any agent sees new", Scope{Role: models.RoleAgent, ProfileID: "a2"}, created, true},
		{"previous agent sees cancel", Scope{Role: models.RoleAgent, ProfileID: "a1"}, cancelled, true},
		{"unrelated agent misses cancel", Scope{Role: models.RoleAgent, ProfileID: "a2"}, cancelled, false},
		{"no role", Scope{}, created, false},
	}
	for _, tc := range cases {
		if got := tc.scope.Allows(tc.event); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
