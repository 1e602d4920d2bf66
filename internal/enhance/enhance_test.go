package enhance

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/intent"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
)

type mockEngine struct {
	chatFn func(ctx context.Context, prompt string, opts engine.ChatOptions) (string, error)
}

func (m *mockEngine) Chat(ctx context.Context, _ string, msgs []engine.Message, opts engine.ChatOptions) (string, error) {
	return m.chatFn(ctx, msgs[0].Content, opts)
}

func (m *mockEngine) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, fmt.Errorf("not implemented")
}
func (m *mockEngine) IsRunning(context.Context) bool { return true }

// recorder returns a fixed response and remembers the last prompt.
func recorder(resp string, err error) (*mockEngine, *string, *float64) {
	var prompt string
	var temp float64
	return &mockEngine{chatFn: func(_ context.Context, p string, opts engine.ChatOptions) (string, error) {
		prompt = p
		temp = opts.Temperature
		return resp, err
	}}, &prompt, &temp
}

func chunks(texts ...string) []retrieval.Chunk {
	out := make([]retrieval.Chunk, len(texts))
	for i, t := range texts {
		out[i] = retrieval.Chunk{ID: fmt.Sprintf("doc:0:%d", i), Text: t, Source: "hr.pdf"}
	}
	return out
}

func TestSummarize_FirstFiveChunks(t *testing.T) {
	eng, prompt, temp := recorder("  A summary.  ", nil)
	e := New(eng, "gpt-4o", 0.3, 0.7)

	got, err := e.Summarize(context.Background(), chunks("c0", "c1", "c2", "c3", "c4", "c5"), "leave")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A summary." {
		t.Errorf("Summarize = %q", got)
	}
	if !strings.Contains(*prompt, "c4") || strings.Contains(*prompt, "c5") {
		t.Error("prompt should contain exactly the first five chunks")
	}
	if !strings.Contains(*prompt, "USER QUERY: leave") {
		t.Error("prompt missing query")
	}
	if *temp != 0.3 {
		t.Errorf("temperature = %v, want 0.3", *temp)
	}
}

func TestSummarize_CapAndDefaultQuery(t *testing.T) {
	eng, prompt, _ := recorder("ok", nil)
	e := New(eng, "gpt-4o", 0, 0.7)

	if _, err := e.Summarize(context.Background(), chunks(strings.Repeat("a", 9000)), ""); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(*prompt, "USER QUERY: general information") {
		t.Error("empty query not replaced")
	}
	if !strings.Contains(*prompt, strings.Repeat("a", 8000)+"...") || strings.Contains(*prompt, strings.Repeat("a", 8001)) {
		t.Error("documents not capped at 8000 characters")
	}
}

func TestSummarize_NoChunks(t *testing.T) {
	eng, _, _ := recorder("", errors.New("must not be called"))
	got, err := New(eng, "m", 0, 0).Summarize(context.Background(), nil, "q")
	if err != nil || got != NoDocumentsSummary {
		t.Errorf("Summarize(nil) = %q, %v", got, err)
	}
}

func TestSummarize_Error(t *testing.T) {
	eng, _, _ := recorder("", errors.New("upstream 500"))
	if _, err := New(eng, "m", 0, 0).Summarize(context.Background(), chunks("x"), "q"); err == nil {
		t.Error("expected error")
	}
}

func TestRespond_HistoryAndIntent(t *testing.T) {
	eng, prompt, _ := recorder("Sorry to hear that.", nil)
	history := []session.Turn{
		{Type: session.TypeUser, Content: "first"},
		{Type: session.TypeBot, Content: "second"},
		{Type: session.TypeUser, Content: "third"},
		{Type: session.TypeBot, Content: "fourth"},
	}
	got, err := New(eng, "m", 0, 0).Respond(context.Background(), "My payslip is wrong", "info", history, intent.Complaint)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "Sorry to hear that." {
		t.Errorf("Respond = %q", got)
	}
	if strings.Contains(*prompt, "User: first") {
		t.Error("prompt includes turns beyond the last three")
	}
	for _, want := range []string{"Assistant: second", "User: third", "Assistant: fourth", "DETECTED INTENT: complaint", "info"} {
		if !strings.Contains(*prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestFollowUps(t *testing.T) {
	eng, prompt, temp := recorder("Follow-up questions:\n1. How do I apply for leave?\n- Can leave be carried over?\nshort?\nNot a question", nil)
	got := New(eng, "m", 0, 0.7).FollowUps(context.Background(), "q", "r", strings.Repeat("c", 1500))

	want := []string{"How do I apply for leave?", "Can leave be carried over?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FollowUps = %q, want %q", got, want)
	}
	if strings.Contains(*prompt, strings.Repeat("c", 1001)) {
		t.Error("context not capped at 1000 characters")
	}
	if *temp != 0.7 {
		t.Errorf("temperature = %v, want creative 0.7", *temp)
	}
}

func TestFollowUps_ErrorFallback(t *testing.T) {
	eng, _, _ := recorder("", errors.New("boom"))
	got := New(eng, "m", 0, 0).FollowUps(context.Background(), "q", "r", "c")
	if len(got) != 1 || got[0] != DefaultFollowUp {
		t.Errorf("FollowUps = %q", got)
	}
}

func TestFAQs(t *testing.T) {
	eng, prompt, _ := recorder("Q: How many leave days?\nA: Fourteen days\nper year.\n\nQ: Orphan question\nQ: Who approves leave?\nA: Your manager.", nil)
	got, err := New(eng, "m", 0, 0).FAQs(context.Background(), chunks("leave"), 3)
	if err != nil {
		t.Fatalf("FAQs: %v", err)
	}
	want := []FAQ{
		{Question: "How many leave days?", Answer: "Fourteen days per year."},
		{Question: "Who approves leave?", Answer: "Your manager."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FAQs = %+v, want %+v", got, want)
	}
	if !strings.Contains(*prompt, "Generate 3 high-quality FAQ pairs") {
		t.Error("prompt missing count")
	}
}

func TestVariations(t *testing.T) {
	resp := "Variation 1:\n# Friendly\n1. You get fourteen days of annual leave each year.\n2. Short one.\n3. Employees are entitled to 14 days of paid leave."
	eng, _, _ := recorder(resp, nil)
	got := New(eng, "m", 0, 0).Variations(context.Background(), "You get 14 days.", 5)
	want := []string{
		"You get fourteen days of annual leave each year.",
		"Employees are entitled to 14 days of paid leave.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Variations = %q, want %q", got, want)
	}

	got = New(eng, "m", 0, 0).Variations(context.Background(), "You get 14 days.", 1)
	if len(got) != 1 {
		t.Errorf("got %d variations, want 1", len(got))
	}
}

func TestVariations_ErrorReturnsOriginal(t *testing.T) {
	eng, _, _ := recorder("", errors.New("boom"))
	got := New(eng, "m", 0, 0).Variations(context.Background(), "original", 3)
	if !reflect.DeepEqual(got, []string{"original"}) {
		t.Errorf("Variations = %q", got)
	}
}

func TestQuestions(t *testing.T) {
	eng, prompt, _ := recorder("1. How many leave days do I get?\n- Can I take unpaid leave?\n• (3) Who approves leave?\n\n", nil)
	got, err := New(eng, "m", 0, 0).Questions(context.Background(), "Leave Policy", 3)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	want := []string{"How many leave days do I get?", "Can I take unpaid leave?", "Who approves leave?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Questions = %q, want %q", got, want)
	}
	if !strings.Contains(*prompt, "produce 3 diverse") || !strings.Contains(*prompt, "Leave Policy") {
		t.Errorf("prompt = %q", *prompt)
	}
}

func TestAnalyze(t *testing.T) {
	eng := &mockEngine{chatFn: func(_ context.Context, p string, _ engine.ChatOptions) (string, error) {
		if strings.Contains(p, "FAQ") {
			return "Q: q1\nA: a1", nil
		}
		return "overview", nil
	}}
	cs := chunks("a", "b")
	cs[1].Source = "manual.pdf"

	got, err := New(eng, "m", 0, 0).Analyze(context.Background(), cs)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.TotalDocumentsAnalyzed != 2 || got.OverallSummary != "overview" || len(got.GeneratedFAQs) != 1 {
		t.Errorf("Analyze = %+v", got)
	}
	if !reflect.DeepEqual(got.DocumentSources, []string{"hr.pdf", "manual.pdf"}) {
		t.Errorf("sources = %q", got.DocumentSources)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	eng, _, _ := recorder("x", nil)
	if _, err := New(eng, "m", 0, 0).Analyze(context.Background(), nil); !errors.Is(err, ErrNoDocuments) {
		t.Errorf("err = %v, want ErrNoDocuments", err)
	}
}

func TestDedupe(t *testing.T) {
	prefix := strings.Repeat("p", 100)
	cs := chunks(prefix+"one", prefix+"two", "other", "other")
	got := Dedupe(cs)
	if len(got) != 2 || got[0].ID != "doc:0:0" || got[1].ID != "doc:0:2" {
		t.Errorf("Dedupe kept %+v", got)
	}
}

func TestSources_Unknown(t *testing.T) {
	cs := chunks("a")
	cs[0].Source = ""
	if got := Sources(cs); !reflect.DeepEqual(got, []string{"unknown"}) {
		t.Errorf("Sources = %q", got)
	}
}

func TestEnhancer_HonoursContext(t *testing.T) {
	eng := &mockEngine{chatFn: func(ctx context.Context, _ string, _ engine.ChatOptions) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := New(eng, "m", 0, 0).Summarize(ctx, chunks("x"), ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
