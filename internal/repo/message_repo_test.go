package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

func TestMessageRepo_AppendAssignsSequence(t *testing.T) {
	db := newRepoDB(t)
	p := seedProduct(t, db)
	ctx := context.Background()
	s, _ := CreateSession(ctx, db, "u1", p.ID, p.ListPrice)

	texts := []string{"hi", "any discount?", "what color?"}
	for _, txt := range texts {
		if _, err := AppendMessage(ctx, db, s.ID, domain.RoleCustomer, txt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := ListMessages(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != len(texts) {
		t.Fatalf("len = %d; want %d", len(msgs), len(texts))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("msgs[%d].Seq = %d; want %d", i, m.Seq, i+1)
		}
		if m.Content != texts[i] {
			t.Fatalf("msgs[%d].Content = %q; want %q (ledger order broken)", i, m.Content, texts[i])
		}
	}

	total, err := CountMessages(ctx, db, s.ID)
	if err != nil || total != int64(len(texts)) {
		t.Fatalf("count = %d, err=%v", total, err)
	}
}

func TestMessageRepo_SequencesArePerSession(t *testing.T) {
	db := newRepoDB(t)
	p := seedProduct(t, db)
	ctx := context.Background()
	s1, _ := CreateSession(ctx, db, "u1", p.ID, p.ListPrice)
	s2, _ := CreateSession(ctx, db, "u2", p.ID, p.ListPrice)

	if _, err := AppendMessage(ctx, db, s1.ID, domain.RoleAssistant, "a"); err != nil {
		t.Fatalf("append s1: %v", err)
	}
	m, err := AppendMessage(ctx, db, s2.ID, domain.RoleAssistant, "b")
	if err != nil {
		t.Fatalf("append s2: %v", err)
	}
	if m.Seq != 1 {
		t.Fatalf("s2 first message Seq = %d; want 1", m.Seq)
	}
}

func TestMessageRepo_ConcurrentAppendsKeepSequenceUnique(t *testing.T) {
	db := newRepoDB(t)
	p := seedProduct(t, db)
	ctx := context.Background()
	s, _ := CreateSession(ctx, db, "u1", p.ID, p.ListPrice)

	// One connection in the pool forces real interleaving at the statement
	// level: the MAX(seq)+1 assignment must survive a customer turn and an
	// admin message landing at the same time.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	const writers = 24
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		role := domain.RoleCustomer
		if i%2 == 0 {
			role = domain.RoleAdmin
		}
		go func(role string, n int) {
			defer wg.Done()
			_, err := AppendMessage(ctx, db, s.ID, role, fmt.Sprintf("msg %d", n))
			errs <- err
		}(role, i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := ListMessages(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != writers {
		t.Fatalf("len = %d; want %d", len(msgs), writers)
	}
	seen := make(map[int64]bool, writers)
	for _, m := range msgs {
		if m.Seq < 1 || m.Seq > writers || seen[m.Seq] {
			t.Fatalf("duplicate or out-of-range Seq %d", m.Seq)
		}
		seen[m.Seq] = true
	}
}
