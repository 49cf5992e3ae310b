package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/resilience"
	"github.com/sells-group/clinical-abstraction/pkg/anthropic"
)

// ManifestName is the file describing a case's documents inside its directory.
const ManifestName = "manifest.json"

// Manifest lists the documents of one case. Document attributes come from
// the ingestion system; the model only reads the text.
type Manifest struct {
	CaseID     string        `json:"case_id"`
	PatientID  string        `json:"patient_id"`
	AnchorDate *model.Date   `json:"anchor_date,omitempty"`
	Documents  []DocumentRef `json:"documents"`
}

// DocumentRef points at one document's text relative to the case directory.
type DocumentRef struct {
	DocumentID    string             `json:"document_id"`
	DocumentType  model.DocumentType `json:"document_type"`
	AuthorRole    model.AuthorRole   `json:"author_role,omitempty"`
	EffectiveDate model.Date         `json:"effective_date"`
	Path          string             `json:"path"`
}

// ClaudeConfig tunes the Claude-backed extractor.
type ClaudeConfig struct {
	Model             string
	MaxTokens         int64
	MaxDocumentChars  int
	CacheTTL          string
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryConfig
}

func (c ClaudeConfig) withDefaults() ClaudeConfig {
	if c.Model == "" {
		c.Model = "claude-haiku-4-5-20251001"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.MaxDocumentChars <= 0 {
		c.MaxDocumentChars = 20000
	}
	if c.CacheTTL == "" {
		c.CacheTTL = "1h"
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// ClaudeSource extracts candidate values from a case directory
// (<Dir>/<case_id>/manifest.json plus document texts) with one Messages call
// per case.
type ClaudeSource struct {
	dir     string
	client  anthropic.Client
	cfg     ClaudeConfig
	limiter *rate.Limiter

	mu    sync.Mutex
	usage anthropic.Usage
}

// NewClaudeSource builds a ClaudeSource reading case directories under dir.
func NewClaudeSource(dir string, client anthropic.Client, cfg ClaudeConfig) *ClaudeSource {
	cfg = cfg.withDefaults()
	return &ClaudeSource{
		dir:     dir,
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

func (s *ClaudeSource) Load(ctx context.Context, caseID string) (*model.CaseBundle, error) {
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	caseDir := filepath.Join(s.dir, caseID)
	m, err := ReadManifest(filepath.Join(caseDir, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(model.ErrCaseNotFound, "extraction: no manifest for case %s", caseID)
		}
		return nil, err
	}
	if m.CaseID == "" {
		m.CaseID = caseID
	}

	docs := make(map[string]DocumentRef, len(m.Documents))
	var texts []string
	for _, d := range m.Documents {
		if _, dup := docs[d.DocumentID]; dup {
			return nil, eris.Errorf("extraction: case %s lists document %s twice", caseID, d.DocumentID)
		}
		docs[d.DocumentID] = d
		raw, err := os.ReadFile(filepath.Join(caseDir, d.Path))
		if err != nil {
			return nil, eris.Wrapf(err, "extraction: read document %s", d.DocumentID)
		}
		texts = append(texts, formatDocument(d, truncate(string(raw), s.cfg.MaxDocumentChars)))
	}

	bundle := &model.CaseBundle{
		CaseID:     m.CaseID,
		PatientID:  m.PatientID,
		AnchorDate: m.AnchorDate,
	}
	if len(docs) == 0 {
		return bundle, nil
	}

	text, err := s.extract(ctx, caseID, texts)
	if err != nil {
		return nil, err
	}
	bundle.Candidates, err = parseCandidates(caseID, text, docs)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// CaseIDs lists the case directories under the source root that carry a
// manifest, sorted.
func (s *ClaudeSource) CaseIDs() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", ManifestName))
	if err != nil {
		return nil, eris.Wrap(err, "extraction: list case directories")
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, filepath.Base(filepath.Dir(m)))
	}
	sort.Strings(ids)
	return ids, nil
}

// Usage returns the tokens consumed by every extraction call so far.
func (s *ClaudeSource) Usage() anthropic.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Model is the model id extraction calls are sent to.
func (s *ClaudeSource) Model() string {
	return s.cfg.Model
}

func (s *ClaudeSource) extract(ctx context.Context, caseID string, texts []string) (string, error) {
	req := anthropic.Request{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    systemPrompt(),
		CacheTTL:  s.cfg.CacheTTL,
		Prompt:    "Extract candidate values from these documents.\n\n" + strings.Join(texts, "\n\n"),
	}

	retry := s.cfg.Retry
	retry.ShouldRetry = isRetryableAPIError
	retry.OnRetry = resilience.RetryLogger("extraction", "create_message")

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.Response, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extraction: rate limit wait")
		}
		return s.client.Complete(ctx, req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "extraction: extract case %s", caseID)
	}

	s.mu.Lock()
	s.usage = s.usage.Add(resp.Usage)
	s.mu.Unlock()

	zap.L().Info("extraction: usage",
		append(resp.Usage.Fields(s.cfg.Model), zap.String("case_id", caseID))...)
	if resp.Truncated() {
		zap.L().Warn("extraction: response truncated", zap.String("case_id", caseID))
	}
	return resp.Text, nil
}

func isRetryableAPIError(err error) bool {
	if code := anthropic.StatusCode(err); code != 0 {
		return resilience.IsTransientHTTPStatus(code)
	}
	return resilience.IsTransient(err)
}

// ReadManifest decodes a case manifest.
func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: read manifest %s", path)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrapf(err, "extraction: decode manifest %s", path)
	}
	for i, d := range m.Documents {
		if d.DocumentID == "" || d.Path == "" {
			return nil, eris.Errorf("extraction: manifest %s document %d needs document_id and path", path, i)
		}
		if _, err := model.ParseDocumentType(string(d.DocumentType)); err != nil {
			return nil, eris.Wrapf(err, "extraction: manifest %s document %s", path, d.DocumentID)
		}
	}
	return &m, nil
}

type extractedCandidate struct {
	Field      string `json:"field"`
	Value      string `json:"value"`
	DocumentID string `json:"document_id"`
	Confidence string `json:"confidence"`
}

// parseCandidates turns the model's answer into candidate values. Document
// attributes are taken from the manifest; entries naming an unknown field or
// document are dropped with a warning.
func parseCandidates(caseID, text string, docs map[string]DocumentRef) ([]model.CandidateValue, error) {
	var payload struct {
		Candidates []extractedCandidate `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrapf(err, "extraction: parse response for case %s", caseID)
	}

	log := zap.L().With(zap.String("case_id", caseID))
	out := make([]model.CandidateValue, 0, len(payload.Candidates))
	for _, c := range payload.Candidates {
		f, err := model.ParseFieldID(c.Field)
		if err != nil {
			log.Warn("extraction: dropping candidate for unknown field", zap.String("field", c.Field))
			continue
		}
		doc, ok := docs[c.DocumentID]
		if !ok {
			log.Warn("extraction: dropping candidate citing unknown document",
				zap.String("field", string(f)), zap.String("document_id", c.DocumentID))
			continue
		}
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		conf, err := model.ParseConfidence(c.Confidence)
		if err != nil {
			conf = model.ConfidenceNone
		}
		out = append(out, model.CandidateValue{
			Field:         f,
			Value:         c.Value,
			DocumentID:    doc.DocumentID,
			DocumentType:  doc.DocumentType,
			AuthorRole:    doc.AuthorRole,
			EffectiveDate: doc.EffectiveDate,
			Confidence:    conf,
		})
	}
	return out, nil
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a clinical data abstractor. Read the documents and report every value ")
	b.WriteString("that appears for the research form fields below. Report what a document states; ")
	b.WriteString("do not infer, reconcile or choose between documents.\n\n")
	b.WriteString("Respond with JSON only: {\"candidates\":[{\"field\":\"section.name\",\"value\":\"...\",")
	b.WriteString("\"document_id\":\"...\",\"confidence\":\"high|medium|low\"}]}\n")
	b.WriteString("Dates are YYYY-MM-DD. Yes/no fields use \"yes\" or \"no\".\n\nFields:\n")
	for _, f := range model.Schema() {
		fmt.Fprintf(&b, "- %s (%s)\n", f.ID, f.Kind)
	}
	return b.String()
}

func formatDocument(d DocumentRef, text string) string {
	return fmt.Sprintf("<document id=%q type=%q author=%q date=%q>\n%s\n</document>",
		d.DocumentID, d.DocumentType, d.AuthorRole, d.EffectiveDate.String(), text)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// cleanJSON strips markdown fences and surrounding prose from a model answer.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
