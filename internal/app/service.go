// Package app wires the orchestration components together and hosts the
// interactive console used for operating and demonstrating the service.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/candorhq/go-candor-ai/internal/cache"
	"github.com/candorhq/go-candor-ai/internal/config"
	"github.com/candorhq/go-candor-ai/internal/fallback"
	"github.com/candorhq/go-candor-ai/internal/ledger"
	"github.com/candorhq/go-candor-ai/internal/orchestrator"
	"github.com/candorhq/go-candor-ai/internal/ratelimit"
	"github.com/candorhq/go-candor-ai/internal/router"
	"github.com/candorhq/go-candor-ai/internal/routing"
	"github.com/candorhq/go-candor-ai/pkg/client"
	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/logger"
)

// Service owns every long-lived orchestration component for one process.
type Service struct {
	settings *config.Settings
	table    *routing.Table
	orch     *orchestrator.Orchestrator
	ledger   *ledger.Ledger
	logger   *logger.Logger
}

// NewService builds the full stack from validated settings: routing table,
// provider clients, rate governor, caches, usage ledger, router, orchestrator.
func NewService(settings *config.Settings) (*Service, error) {
	log := logger.NewLogger(logger.LogLevel(settings.LogLevel))

	table, err := loadTable(settings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load routing table")
	}

	providers := make(map[string]llm.Provider)
	for _, backend := range settings.Providers.Enabled {
		provider, err := client.NewProvider(backend, settings.Providers.MaxTokens)
		if err != nil {
			// A missing key for one backend should not take down the rest;
			// its tiers will simply fail over.
			log.Warn("provider unavailable", "backend", backend, "error", err)
			continue
		}
		providers[backend] = provider
	}
	if len(providers) == 0 {
		return nil, errors.New("no provider backends could be initialized")
	}

	if dir := filepath.Dir(settings.Ledger.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create ledger directory")
		}
	}
	usageLedger, err := ledger.New(settings.Ledger.DBPath, settings.Ledger.DefaultCallerLimit, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open usage ledger")
	}

	governor := ratelimit.NewGovernor(table.Tiers(), 0, log)
	rt := router.New(providers, governor, usageLedger, log, router.Config{})
	orch := orchestrator.New(
		table, rt, governor,
		cache.New(settings.Cache.Capacity, table.TTL),
		cache.NewPrefixCache(settings.Cache.PrefixCapacity, 0),
		usageLedger, log,
	)

	return &Service{
		settings: settings,
		table:    table,
		orch:     orch,
		ledger:   usageLedger,
		logger:   log.WithComponent("app"),
	}, nil
}

func loadTable(settings *config.Settings) (*routing.Table, error) {
	var table *routing.Table
	var err error
	if settings.Routing.TableFile != "" {
		table, err = routing.LoadTableFile(settings.Routing.TableFile)
	} else {
		table, err = routing.LoadBuiltinTable()
	}
	if err != nil {
		return nil, err
	}
	return table.WithRPMOverrides(settings.Routing.RPM)
}

// Close flushes and closes the usage ledger.
func (s *Service) Close() error {
	return s.ledger.Close()
}

// Orchestrator exposes the task surface for the console and one-shot mode.
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// RunTask executes one task from console input and renders a human-readable
// result. The input conventions per task are documented in /help.
func (s *Service) RunTask(ctx context.Context, task routing.TaskType, input, callerID string) (string, error) {
	opts := router.CallOptions{
		CallerID:  callerID,
		MaxTokens: s.settings.Providers.MaxTokens,
	}

	switch task {
	case routing.TaskGenerateQuestions:
		role, desc, _ := splitParts(input)
		qs := s.orch.GenerateQuestions(ctx, role, desc, 5, opts)
		return renderJSON(qs)

	case routing.TaskEvaluateAnswer:
		question, answer, ok := splitParts(input)
		if !ok {
			return "", fmt.Errorf("evaluate_answer needs 'question | answer'")
		}
		score := s.orch.EvaluateAnswer(ctx, question, answer, opts)
		return fmt.Sprintf("Score: %d/5\n%s", score.Score, score.Rationale), nil

	case routing.TaskClassifyDocument:
		cls := s.orch.ClassifyDocument(ctx, input, opts)
		return fmt.Sprintf("Type: %s (confidence %.2f)", cls.DocType, cls.Confidence), nil

	case routing.TaskSuggestSkills:
		skills := s.orch.SuggestSkills(ctx, input, 8, opts)
		if len(skills) == 0 {
			return "No suggestions.", nil
		}
		return strings.Join(skills, ", "), nil

	case routing.TaskEmbedText:
		vec, err := s.orch.GenerateEmbedding(ctx, input, opts)
		if err != nil {
			return "", err
		}
		preview := vec
		if len(preview) > 8 {
			preview = preview[:8]
		}
		return fmt.Sprintf("%d dimensions, first values %v", len(vec), preview), nil

	default:
		return "", fmt.Errorf("unknown task type %q", task)
	}
}

// splitParts splits console input on the first '|', trimming both halves.
func splitParts(input string) (string, string, bool) {
	left, right, found := strings.Cut(input, "|")
	return strings.TrimSpace(left), strings.TrimSpace(right), found
}

func renderJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Status returns the orchestrator's operational snapshot.
func (s *Service) Status() orchestrator.Status { return s.orch.GetStatus() }

// UsageSummary aggregates ledger rows per model and purpose.
func (s *Service) UsageSummary(ctx context.Context) ([]ledger.SummaryRow, error) {
	s.ledger.Flush()
	return s.ledger.Summary(ctx)
}

// FailedCalls counts ledger entries recorded with a failed status, for the
// console's usage display.
func (s *Service) FailedCalls(ctx context.Context) (int64, error) {
	s.ledger.Flush()
	return s.ledger.CountByStatus(ctx, ledger.StatusFailure)
}

// RegisterExemplar embeds a labeled example document so the classification
// fallback can match future documents against it by cosine similarity.
func (s *Service) RegisterExemplar(ctx context.Context, docType, document, callerID string) error {
	opts := router.CallOptions{
		CallerID:  callerID,
		MaxTokens: s.settings.Providers.MaxTokens,
	}
	return s.orch.RegisterExemplarDocument(ctx, docType, document, opts)
}

// Quota reports a caller's advisory quota state.
func (s *Service) Quota(ctx context.Context, callerID string) ledger.Decision {
	s.ledger.Flush()
	return s.ledger.CheckLimit(ctx, callerID)
}

// SetQuota adjusts one caller's advisory token limit.
func (s *Service) SetQuota(ctx context.Context, callerID string, limit int64) error {
	return s.ledger.SetLimit(ctx, callerID, limit)
}

// ClearCache drops cached responses for one task, or every task when the
// task argument is empty.
func (s *Service) ClearCache(task routing.TaskType) int {
	if task != "" {
		return s.orch.InvalidateTask(task)
	}
	total := 0
	for _, t := range routing.KnownTaskTypes {
		total += s.orch.InvalidateTask(t)
	}
	return total
}

// LocalPreview runs the fallback path directly, for demonstrating what end
// users see during a total provider outage.
func (s *Service) LocalPreview(task routing.TaskType, input string) (string, error) {
	switch task {
	case routing.TaskGenerateQuestions:
		return renderJSON(fallback.Questions(input, 5))
	case routing.TaskClassifyDocument:
		cls := fallback.ClassifyKeywords(input)
		return fmt.Sprintf("Type: %s (confidence %.2f)", cls.DocType, cls.Confidence), nil
	case routing.TaskSuggestSkills:
		return strings.Join(fallback.SuggestSkills(input, 8), ", "), nil
	default:
		return "", fmt.Errorf("no local preview for task %q", task)
	}
}
