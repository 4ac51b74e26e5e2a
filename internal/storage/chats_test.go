package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCreateAndGetChat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateChat(ctx, Chat{PrincipalID: "u1", PersonaID: "p1", Title: "Hiring"})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected generated chat ID")
	}

	got, err := s.GetChat(ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.PersonaID != "p1" || got.Title != "Hiring" {
		t.Errorf("got %+v", got)
	}
	if got.Session != nil {
		t.Errorf("new chat should have no session context, got %+v", got.Session)
	}
	if len(got.Turns) != 0 {
		t.Errorf("new chat has %d turns", len(got.Turns))
	}
}

func TestGetChat_ForeignPrincipal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateChat(ctx, Chat{PrincipalID: "owner"})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, err := s.GetChat(ctx, c.ID, "intruder"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChat(foreign) = %v, want ErrNotFound", err)
	}
	if _, err := s.GetChat(ctx, "missing", "owner"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChat(missing) = %v, want ErrNotFound", err)
	}
}

func TestAppendTurn_Sequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateChat(ctx, Chat{PrincipalID: "u1"})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	for i := 1; i <= 3; i++ {
		turn := Turn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)}
		if i == 2 {
			turn.Attachment = &Attachment{Kind: "pdf", Name: "plan.pdf"}
		}
		got, err := s.AppendTurn(ctx, c.ID, turn)
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		if got.Seq != i {
			t.Errorf("turn %d seq = %d", i, got.Seq)
		}
	}

	chat, err := s.GetChat(ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if len(chat.Turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(chat.Turns))
	}
	for i, turn := range chat.Turns {
		if want := fmt.Sprintf("q%d", i+1); turn.Question != want {
			t.Errorf("turn[%d].Question = %q, want %q", i, turn.Question, want)
		}
	}
	if a := chat.Turns[1].Attachment; a == nil || a.Kind != "pdf" || a.Name != "plan.pdf" {
		t.Errorf("attachment = %+v", a)
	}
	if chat.Turns[0].Attachment != nil {
		t.Errorf("turn without attachment got %+v", chat.Turns[0].Attachment)
	}
}

func TestAppendTurn_ConcurrentWritersKeepAllTurns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateChat(ctx, Chat{PrincipalID: "u1"})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.AppendTurn(ctx, c.ID, Turn{Question: fmt.Sprintf("q%d", i), Answer: "a"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendTurn: %v", err)
	}

	chat, err := s.GetChat(ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if len(chat.Turns) != writers {
		t.Fatalf("got %d turns, want %d", len(chat.Turns), writers)
	}
	for i, turn := range chat.Turns {
		if turn.Seq != i+1 {
			t.Errorf("turn[%d].Seq = %d, want %d", i, turn.Seq, i+1)
		}
	}
}

func TestAppendTurn_UnknownChat(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.AppendTurn(context.Background(), "nope", Turn{Question: "q", Answer: "a"}); err == nil {
		t.Error("expected error appending to a missing chat")
	}
}

func TestUpdateSessionContext_BoundedFIFO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.CreateChat(ctx, Chat{PrincipalID: "u1"})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	for i := 0; i < 7; i++ {
		topic := ""
		if i == 0 {
			topic = "pricing"
		}
		decisions := []string{fmt.Sprintf("d%d-a", i), fmt.Sprintf("d%d-b", i)}
		sc, err := s.UpdateSessionContext(ctx, c.ID, topic, decisions)
		if err != nil {
			t.Fatalf("UpdateSessionContext %d: %v", i, err)
		}
		if len(sc.KeyDecisions) > MaxKeyDecisions {
			t.Fatalf("update %d: %d decisions exceeds bound", i, len(sc.KeyDecisions))
		}
	}

	chat, err := s.GetChat(ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.Session == nil {
		t.Fatal("expected session context")
	}
	if chat.Session.Topic != "pricing" {
		t.Errorf("topic = %q, want pricing (empty topics must not overwrite)", chat.Session.Topic)
	}
	got := chat.Session.KeyDecisions
	if len(got) != MaxKeyDecisions {
		t.Fatalf("got %d decisions, want %d", len(got), MaxKeyDecisions)
	}
	// 14 decisions written; the oldest four are evicted.
	if got[0] != "d2-a" || got[len(got)-1] != "d6-b" {
		t.Errorf("decisions = %v", got)
	}
}

func TestSessionContextMerge(t *testing.T) {
	now := time.Now()
	base := SessionContext{Topic: "old", KeyDecisions: []string{"a", "b"}}

	got := base.Merge("", []string{"c", ""}, now)
	if got.Topic != "old" {
		t.Errorf("topic = %q, want old", got.Topic)
	}
	if fmt.Sprint(got.KeyDecisions) != "[a b c]" {
		t.Errorf("decisions = %v", got.KeyDecisions)
	}
	if fmt.Sprint(base.KeyDecisions) != "[a b]" {
		t.Errorf("Merge mutated receiver: %v", base.KeyDecisions)
	}

	got = base.Merge("new", nil, now)
	if got.Topic != "new" {
		t.Errorf("topic = %q, want new", got.Topic)
	}
}
