package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/candorhq/go-candor-ai/internal/config"
	"github.com/candorhq/go-candor-ai/internal/routing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	settings := config.GetDefaultSettings()
	settings.Providers.Enabled = []string{"ollama"}
	settings.Ledger.DBPath = filepath.Join(t.TempDir(), "usage.db")
	settings.LogLevel = "error"

	svc, err := NewService(settings)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewServiceWiresComponents(t *testing.T) {
	svc := newTestService(t)

	status := svc.Status()
	if len(status.RateLimits) == 0 {
		t.Error("governor has no tiers")
	}
	if status.Cache.Capacity == 0 {
		t.Error("response cache not sized")
	}
}

func TestServiceQuotaUnknownCallerAllowed(t *testing.T) {
	svc := newTestService(t)

	dec := svc.Quota(context.Background(), "never-seen")
	if !dec.Allowed {
		t.Errorf("unknown caller should be allowed: %+v", dec)
	}
}

func TestServiceLocalPreview(t *testing.T) {
	svc := newTestService(t)

	out, err := svc.LocalPreview(routing.TaskSuggestSkills, "py")
	if err != nil {
		t.Fatalf("LocalPreview: %v", err)
	}
	if !strings.Contains(out, "Python") {
		t.Errorf("preview = %q", out)
	}

	if _, err := svc.LocalPreview(routing.TaskEmbedText, "text"); err == nil {
		t.Error("embedding has no local preview, expected error")
	}
}

func TestRunTaskRejectsMalformedEvaluateInput(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.RunTask(context.Background(), routing.TaskEvaluateAnswer, "no separator here", "tester"); err == nil {
		t.Error("expected error for input without a '|' separator")
	}
}

func TestSplitParts(t *testing.T) {
	left, right, ok := splitParts("  question text | the answer ")
	if !ok || left != "question text" || right != "the answer" {
		t.Errorf("splitParts = (%q, %q, %v)", left, right, ok)
	}

	left, _, ok = splitParts("just a role")
	if ok || left != "just a role" {
		t.Errorf("splitParts without separator = (%q, %v)", left, ok)
	}
}

func TestWithRPMOverridesThroughSettings(t *testing.T) {
	settings := config.GetDefaultSettings()
	settings.Providers.Enabled = []string{"ollama"}
	settings.Ledger.DBPath = filepath.Join(t.TempDir(), "usage.db")
	settings.LogLevel = "error"
	settings.Routing.RPM = map[string]int{"local-chat": 7}

	svc, err := NewService(settings)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	if limit := svc.Status().RateLimits["local-chat"].Limit; limit != 7 {
		t.Errorf("rpm override not applied, limit = %d", limit)
	}

	settings.Routing.RPM = map[string]int{"no-such-tier": 5}
	if _, err := NewService(settings); err == nil {
		t.Error("expected error for unknown tier override")
	}
}
