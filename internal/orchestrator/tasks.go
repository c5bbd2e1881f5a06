package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/candorhq/go-candor-ai/internal/cache"
	"github.com/candorhq/go-candor-ai/internal/fallback"
	"github.com/candorhq/go-candor-ai/internal/router"
	"github.com/candorhq/go-candor-ai/internal/routing"
	"github.com/candorhq/go-candor-ai/internal/textnorm"
)

// Typed task helpers. Each one builds the prompt, runs it through Execute,
// and absorbs total provider exhaustion with a deterministic local fallback
// so the product surface never sees an AI outage. GenerateEmbedding is the
// exception: there is no local substitute for an embedding vector.

type questionsResponse struct {
	Questions []fallback.Question `json:"questions"`
}

// GenerateQuestions produces interview questions for a role. The fallback
// serves canned questions matched to the role's category.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, role, jobDescription string, count int, opts router.CallOptions) []fallback.Question {
	if count <= 0 {
		count = 5
	}
	opts.Purpose = string(routing.TaskGenerateQuestions)

	suffix, err := schemaInstruction(&questionsResponse{})
	if err != nil {
		o.logger.Error("failed to build question schema", "error", err)
		return fallback.Questions(role, count)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an experienced recruiter. Write %d interview questions for the role %q.\n", count, role)
	if jobDescription != "" {
		fmt.Fprintf(&sb, "Job description:\n%s\n", jobDescription)
	}
	sb.WriteString("Each question needs a short category label such as experience, problem-solving, or collaboration.")
	sb.WriteString(suffix)

	text, err := o.Execute(ctx, routing.TaskGenerateQuestions, sb.String(), opts)
	if err != nil {
		o.logger.Warn("question generation unavailable, serving canned set", "role", role, "error", err)
		return fallback.Questions(role, count)
	}

	var resp questionsResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil || len(resp.Questions) == 0 {
		return fallback.Questions(role, count)
	}
	if len(resp.Questions) > count {
		resp.Questions = resp.Questions[:count]
	}
	return resp.Questions
}

// EvaluateAnswer scores a candidate's answer to one question. The fallback
// applies rule-based heuristics over the answer text.
func (o *Orchestrator) EvaluateAnswer(ctx context.Context, question, answer string, opts router.CallOptions) fallback.Score {
	opts.Purpose = string(routing.TaskEvaluateAnswer)

	suffix, err := schemaInstruction(&fallback.Score{})
	if err != nil {
		o.logger.Error("failed to build score schema", "error", err)
		return o.localScore(question, answer)
	}

	prompt := fmt.Sprintf(
		"You are an experienced interviewer. Score the candidate's answer from 1 (poor) to 5 (excellent) and give a one-sentence rationale.\nQuestion: %s\nAnswer: %s%s",
		question, answer, suffix)

	text, err := o.Execute(ctx, routing.TaskEvaluateAnswer, prompt, opts)
	if err != nil {
		o.logger.Warn("answer evaluation unavailable, using heuristic score", "error", err)
		return o.localScore(question, answer)
	}

	var score fallback.Score
	if err := json.Unmarshal([]byte(text), &score); err != nil || score.Score < 1 || score.Score > 5 {
		return o.localScore(question, answer)
	}
	return score
}

func (o *Orchestrator) localScore(question, answer string) fallback.Score {
	scorer, err := fallback.NewScorer()
	if err != nil {
		return fallback.Score{Score: 2, Rationale: "Answer recorded; automated review unavailable."}
	}
	return scorer.Evaluate(question, answer)
}

// ClassifyDocument labels an uploaded document (resume, cover letter, job
// posting, reference letter). Raw HTML is normalized to text before
// prompting so markup variants of the same document share a cache entry.
// The fallback compares against registered exemplar embeddings when any
// exist, then keyword frequency.
func (o *Orchestrator) ClassifyDocument(ctx context.Context, document string, opts router.CallOptions) fallback.Classification {
	opts.Purpose = string(routing.TaskClassifyDocument)
	normalized := textnorm.NormalizeDocument(document)

	suffix, err := schemaInstruction(&fallback.Classification{})
	if err != nil {
		o.logger.Error("failed to build classification schema", "error", err)
		return o.localClassify(ctx, normalized, opts)
	}

	prompt := fmt.Sprintf(
		"Classify this document as one of: resume, cover_letter, job_posting, reference_letter, other. Give a confidence between 0 and 1.\nDocument:\n%s%s",
		normalized, suffix)

	text, err := o.Execute(ctx, routing.TaskClassifyDocument, prompt, opts)
	if err != nil {
		o.logger.Warn("document classification unavailable, using local classifier", "error", err)
		return o.localClassify(ctx, normalized, opts)
	}

	var cls fallback.Classification
	if err := json.Unmarshal([]byte(text), &cls); err != nil || cls.DocType == "" {
		return o.localClassify(ctx, normalized, opts)
	}
	return cls
}

// RegisterDocPrototype stores an exemplar embedding for a document type. The
// classification fallback matches incoming documents against prototypes by
// cosine similarity before resorting to keywords.
func (o *Orchestrator) RegisterDocPrototype(docType string, vec []float64) {
	o.protoMu.Lock()
	defer o.protoMu.Unlock()
	o.prototypes[docType] = append([]float64(nil), vec...)
}

// RegisterExemplarDocument embeds a labeled example document and registers
// the vector as a classification prototype.
func (o *Orchestrator) RegisterExemplarDocument(ctx context.Context, docType, document string, opts router.CallOptions) error {
	vec, err := o.GenerateEmbedding(ctx, textnorm.NormalizeDocument(document), opts)
	if err != nil {
		return err
	}
	o.RegisterDocPrototype(docType, vec)
	return nil
}

func (o *Orchestrator) prototypeSnapshot() map[string][]float64 {
	o.protoMu.RLock()
	defer o.protoMu.RUnlock()
	out := make(map[string][]float64, len(o.prototypes))
	for docType, vec := range o.prototypes {
		out[docType] = vec
	}
	return out
}

// localClassify is the no-provider classification path: embedding cosine
// match against registered prototypes when the embedding tier is still
// reachable, keyword frequency otherwise.
func (o *Orchestrator) localClassify(ctx context.Context, normalized string, opts router.CallOptions) fallback.Classification {
	if protos := o.prototypeSnapshot(); len(protos) > 0 {
		if vec, err := o.GenerateEmbedding(ctx, normalized, opts); err == nil {
			if cls := fallback.ClassifyEmbedding(vec, protos); cls.DocType != fallback.DocOther {
				return cls
			}
		}
	}
	return fallback.ClassifyKeywords(normalized)
}

type skillsResponse struct {
	Skills []string `json:"skills"`
}

// SuggestSkills completes a partial skill query for typeahead. Results land
// in the prefix cache so subsequent keystrokes extending the same prefix are
// served locally; dispatches are debounced per the task's routing entry.
// The fallback matches against a static skill vocabulary.
func (o *Orchestrator) SuggestSkills(ctx context.Context, query string, limit int, opts router.CallOptions) []string {
	if limit <= 0 {
		limit = 8
	}
	opts.Purpose = string(routing.TaskSuggestSkills)

	prefix := cache.NormalizePrefix(query)
	if len(prefix) < cache.MinPrefixLen {
		return nil
	}

	if cached, ok := o.prefixes.Get(prefix); ok {
		var skills []string
		if err := json.Unmarshal([]byte(cached), &skills); err == nil {
			return clampSkills(skills, limit)
		}
	}

	suffix, err := schemaInstruction(&skillsResponse{})
	if err != nil {
		o.logger.Error("failed to build skills schema", "error", err)
		return fallback.SuggestSkills(prefix, limit)
	}

	prompt := fmt.Sprintf(
		"Suggest up to %d professional skills matching the partial query %q, most relevant first.%s",
		limit, prefix, suffix)

	text, err := o.ExecuteDebounced(ctx, routing.TaskSuggestSkills, prompt, opts)
	if err != nil {
		return fallback.SuggestSkills(prefix, limit)
	}

	var resp skillsResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil || len(resp.Skills) == 0 {
		return fallback.SuggestSkills(prefix, limit)
	}
	if data, err := json.Marshal(resp.Skills); err == nil {
		o.prefixes.Set(prefix, string(data))
	}
	return clampSkills(resp.Skills, limit)
}

func clampSkills(skills []string, limit int) []string {
	if len(skills) > limit {
		return skills[:limit]
	}
	return skills
}

// GenerateEmbedding returns a vector for text. There is no local fallback;
// callers handle ErrUnavailable (typically by deferring the embedding job).
func (o *Orchestrator) GenerateEmbedding(ctx context.Context, text string, opts router.CallOptions) ([]float64, error) {
	opts.Purpose = string(routing.TaskEmbedText)
	return o.ExecuteEmbed(ctx, routing.TaskEmbedText, text, opts)
}
