package llmcall

import (
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/picturebook/internal/providers"
)

func TestLog_EvictsOldest(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Record(&Call{ID: string(rune('a' + i)), Page: i})
	}
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}

	got := l.Recent(QueryFilter{})
	want := []string{"e", "d", "c"}
	if len(got) != len(want) {
		t.Fatalf("Recent() returned %d calls, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Recent()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestLog_Filter(t *testing.T) {
	l := NewLog(10)
	l.Record(FromChatResult(&providers.ChatResult{Provider: "mock", Content: "a fox"}, RecordOptions{BookID: "b1", Page: 0, Version: 1}))
	l.Record(FromImageResult(&providers.ImageResult{Provider: "mock"}, "/images/x.png", RecordOptions{BookID: "b1", Page: 0, Version: 1}))
	l.Record(Failed(KindImage, "mock", time.Second, errors.New("boom"), RecordOptions{BookID: "b2"}))
	l.Record(nil)

	if n := len(l.Recent(QueryFilter{BookID: "b1"})); n != 2 {
		t.Errorf("book b1 calls = %d, want 2", n)
	}
	if n := len(l.Recent(QueryFilter{Kind: KindImage})); n != 2 {
		t.Errorf("image calls = %d, want 2", n)
	}

	failed := false
	got := l.Recent(QueryFilter{Success: &failed})
	if len(got) != 1 || got[0].Error != "boom" || got[0].LatencyMs != 1000 {
		t.Errorf("failed calls = %+v", got)
	}
	if n := len(l.Recent(QueryFilter{Limit: 1})); n != 1 {
		t.Errorf("limited calls = %d, want 1", n)
	}
}

func TestFromChatResult(t *testing.T) {
	if FromChatResult(nil, RecordOptions{}) != nil {
		t.Error("nil result should give nil call")
	}
	call := FromChatResult(&providers.ChatResult{
		Provider:         "openrouter",
		ModelUsed:        "openai/gpt-4o-mini",
		PromptTokens:     40,
		CompletionTokens: 12,
		Content:          "A bear waves.",
		ExecutionTime:    250 * time.Millisecond,
	}, RecordOptions{BookID: "b", Page: 2, Version: 7, JobID: "b/2@v7"})

	if call.Kind != KindSummary || !call.Success {
		t.Errorf("call = %+v", call)
	}
	if call.LatencyMs != 250 || call.InputTokens != 40 || call.OutputTokens != 12 {
		t.Errorf("metrics = %d/%d/%d", call.LatencyMs, call.InputTokens, call.OutputTokens)
	}
	if call.Page != 2 || call.Version != 7 || call.JobID != "b/2@v7" {
		t.Errorf("context = %+v", call)
	}
	if call.ID == "" {
		t.Error("missing ID")
	}
}
