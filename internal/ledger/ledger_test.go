package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/candorhq/go-candor-ai/pkg/logger"
)

func newTestLedger(t *testing.T, defaultLimit int64) *Ledger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	l, err := New(dbPath, defaultLimit, logger.NewLogger(logger.LogLevelError))
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLogAndSummary(t *testing.T) {
	l := newTestLedger(t, 0)

	l.Log(Entry{
		CallerID:     "recruiter-1",
		Model:        "claude-sonnet-4-20250514",
		Purpose:      "generate_questions",
		InputTokens:  120,
		OutputTokens: 350,
		Status:       StatusSuccess,
	})
	l.Log(Entry{
		Model:   "gpt-4o-mini",
		Purpose: "classify_document",
		Status:  StatusFailure,
		Error:   "request timed out",
	})
	l.Flush()

	rows, err := l.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 summary rows, got %d", len(rows))
	}

	byModel := make(map[string]SummaryRow)
	for _, r := range rows {
		byModel[r.Model] = r
	}
	if r := byModel["claude-sonnet-4-20250514"]; r.Calls != 1 || r.InputTokens != 120 || r.OutputTokens != 350 {
		t.Errorf("Unexpected success row: %+v", r)
	}
	if r := byModel["gpt-4o-mini"]; r.Failures != 1 {
		t.Errorf("Expected 1 failure, got %+v", r)
	}
}

func TestQuotaIncrementOnSuccess(t *testing.T) {
	l := newTestLedger(t, 1000)

	l.Log(Entry{
		CallerID:     "recruiter-1",
		Model:        "gpt-4o-mini",
		Purpose:      "evaluate_answer",
		InputTokens:  300,
		OutputTokens: 400,
		Status:       StatusSuccess,
	})
	l.Flush()

	d := l.CheckLimit(context.Background(), "recruiter-1")
	if !d.Allowed {
		t.Fatalf("Caller should still be within quota: %+v", d)
	}
	if d.Remaining != 300 {
		t.Errorf("Expected 300 remaining of 1000, got %d", d.Remaining)
	}
}

func TestQuotaExhaustion(t *testing.T) {
	l := newTestLedger(t, 500)

	l.Log(Entry{
		CallerID:     "recruiter-2",
		Model:        "gpt-4o-mini",
		Purpose:      "evaluate_answer",
		InputTokens:  300,
		OutputTokens: 300,
		Status:       StatusSuccess,
	})
	l.Flush()

	d := l.CheckLimit(context.Background(), "recruiter-2")
	if d.Allowed {
		t.Errorf("Caller past the limit should be refused: %+v", d)
	}
	if d.Reason != "token limit exhausted" {
		t.Errorf("Unexpected reason %q", d.Reason)
	}
}

func TestFailuresDoNotAccrueQuota(t *testing.T) {
	l := newTestLedger(t, 100)

	l.Log(Entry{
		CallerID:     "recruiter-3",
		Model:        "gpt-4o-mini",
		Purpose:      "classify_document",
		InputTokens:  500,
		OutputTokens: 0,
		Status:       StatusFailure,
		Error:        "provider throttled",
	})
	l.Flush()

	d := l.CheckLimit(context.Background(), "recruiter-3")
	if !d.Allowed {
		t.Errorf("Failed calls must not count against quota: %+v", d)
	}
}

func TestUnknownCallerAllowed(t *testing.T) {
	l := newTestLedger(t, 1000)

	d := l.CheckLimit(context.Background(), "never-seen")
	if !d.Allowed {
		t.Error("Unknown callers must be allowed (advisory quota)")
	}
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	l := newTestLedger(t, 0)

	l.Log(Entry{
		CallerID:     "heavy-user",
		Model:        "gpt-4o-mini",
		Purpose:      "embed_text",
		InputTokens:  100000,
		OutputTokens: 0,
		Status:       StatusSuccess,
	})
	l.Flush()

	d := l.CheckLimit(context.Background(), "heavy-user")
	if !d.Allowed {
		t.Error("Zero limit should mean unlimited")
	}
}

func TestSetLimit(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	if err := l.SetLimit(ctx, "recruiter-4", 50); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}

	l.Log(Entry{
		CallerID:     "recruiter-4",
		Model:        "gpt-4o-mini",
		Purpose:      "suggest_skills",
		InputTokens:  40,
		OutputTokens: 20,
		Status:       StatusSuccess,
	})
	l.Flush()

	d := l.CheckLimit(ctx, "recruiter-4")
	if d.Allowed {
		t.Errorf("Caller past an explicit limit should be refused: %+v", d)
	}
}

func TestCountByStatus(t *testing.T) {
	l := newTestLedger(t, 0)

	for i := 0; i < 2; i++ {
		l.Log(Entry{Model: "m", Purpose: "p", Status: StatusFailure, Error: "x"})
	}
	l.Log(Entry{Model: "m", Purpose: "p", Status: StatusSuccess})
	l.Flush()

	n, err := l.CountByStatus(context.Background(), StatusFailure)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 failures, got %d", n)
	}
}

func TestFlushAndLogSafeDuringClose(t *testing.T) {
	l := newTestLedger(t, 0)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				l.Log(Entry{Model: "m", Purpose: "p", Status: StatusSuccess})
				l.Flush()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		l.Close()
	}()

	close(start)
	wg.Wait()

	// Late calls against a closed ledger are no-ops, not panics.
	l.Log(Entry{Model: "m", Purpose: "p", Status: StatusSuccess})
	l.Flush()
}
