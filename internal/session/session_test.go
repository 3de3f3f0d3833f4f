package session

import (
	"sync"
	"testing"
	"time"
)

func TestCreateAssignsIDWhenEmpty(t *testing.T) {
	s := NewStore(40, time.Hour, nil)
	state := s.Create("")
	if state.ThreadID == "" {
		t.Fatal("expected a generated thread ID")
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	s := NewStore(40, time.Hour, nil)
	first := s.Create("thread-1")
	s.Append("thread-1", Message{Role: "user", Content: "hi"})
	second := s.Create("thread-1")
	if second.Revision == first.Revision {
		t.Fatalf("expected Create to return existing state, not reset it")
	}
}

func TestAppendBumpsRevisionMonotonically(t *testing.T) {
	s := NewStore(40, time.Hour, nil)
	s.Create("thread-1")

	var last uint64
	for i := 0; i < 5; i++ {
		state := s.Append("thread-1", Message{Role: "user", Content: "q"}, Message{Role: "assistant", Content: "a"})
		if state.Revision <= last {
			t.Fatalf("revision did not strictly increase: was %d, now %d", last, state.Revision)
		}
		last = state.Revision
	}
}

func TestAppendTrimsHistoryToMaxHistory(t *testing.T) {
	s := NewStore(4, time.Hour, nil)
	s.Create("thread-1")
	for i := 0; i < 5; i++ {
		s.Append("thread-1", Message{Role: "user", Content: "q"}, Message{Role: "assistant", Content: "a"})
	}
	state, ok := s.Load("thread-1")
	if !ok {
		t.Fatal("expected thread to exist")
	}
	if len(state.Messages) != 4 {
		t.Errorf("expected history trimmed to 4 messages, got %d", len(state.Messages))
	}
}

func TestAppendKeepsAlternationForNTurns(t *testing.T) {
	s := NewStore(100, time.Hour, nil)
	s.Create("thread-1")
	for i := 0; i < 3; i++ {
		s.Append("thread-1", Message{Role: "user", Content: "q"}, Message{Role: "assistant", Content: "a"})
	}
	state, _ := s.Load("thread-1")
	if len(state.Messages) != 6 {
		t.Fatalf("expected 6 messages for 3 turns, got %d", len(state.Messages))
	}
	for i, m := range state.Messages {
		wantRole := "user"
		if i%2 == 1 {
			wantRole = "assistant"
		}
		if m.Role != wantRole {
			t.Errorf("message %d role = %q, want %q", i, m.Role, wantRole)
		}
	}
}

func TestConcurrentAppendsOnSameThreadStayMonotonic(t *testing.T) {
	s := NewStore(1000, time.Hour, nil)
	s.Create("thread-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append("thread-1", Message{Role: "user", Content: "q"}, Message{Role: "assistant", Content: "a"})
		}()
	}
	wg.Wait()

	state, _ := s.Load("thread-1")
	if state.Revision != 21 {
		t.Errorf("expected revision 21 after create + 20 appends, got %d", state.Revision)
	}
	if len(state.Messages) != 40 {
		t.Errorf("expected 40 messages after 20 turns, got %d", len(state.Messages))
	}
}

func TestResetClearsHistoryButKeepsRevisionIncreasing(t *testing.T) {
	s := NewStore(40, time.Hour, nil)
	s.Create("thread-1")
	state := s.Append("thread-1", Message{Role: "user", Content: "q"}, Message{Role: "assistant", Content: "a"})
	before := state.Revision

	s.Reset("thread-1")
	after, _ := s.Load("thread-1")
	if len(after.Messages) != 0 {
		t.Errorf("expected messages cleared, got %d", len(after.Messages))
	}
	if after.Revision <= before {
		t.Errorf("expected revision to keep increasing across reset, before=%d after=%d", before, after.Revision)
	}
}

func TestFormatForPrompt(t *testing.T) {
	got := FormatForPrompt([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	want := "User: hello\nAssistant: hi there\n"
	if got != want {
		t.Errorf("FormatForPrompt() = %q, want %q", got, want)
	}
}
