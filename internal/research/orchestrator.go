package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/resilience"
	"github.com/harborintel/port-research/internal/validate"
	"github.com/harborintel/port-research/pkg/anthropic"
)

// QueryRun is the state of one fan-out query across the run: its inputs,
// its result, and its terminal error if it failed both attempts.
type QueryRun struct {
	Name    string
	Query   string
	Content string
	Sources []string
	Err     error
}

// EventType names the wire-level research events.
type EventType string

const (
	EventStatus      EventType = "status"
	EventPreview     EventType = "preview"
	EventReportError EventType = "report_error"
	EventError       EventType = "error"
	EventComplete    EventType = "complete"
)

// Event is one progress event emitted by a research run. Progress is
// monotonically non-decreasing 0..100; consumers should still take the max
// seen.
type Event struct {
	Type     EventType `json:"type"`
	Step     string    `json:"step,omitempty"`
	Message  string    `json:"message,omitempty"`
	Progress int       `json:"progress"`
	Preview  *Preview  `json:"preview,omitempty"`
	Error    *Error    `json:"error,omitempty"`
}

// Preview is the terminal payload of a successful run: every field proposal,
// the notes delta, and the consolidated update payload. DataToUpdate carries
// every field with a proposed value, unfiltered by ShouldUpdate — inclusion
// is the approver's decision, not the orchestrator's.
type Preview struct {
	EntityID     string                `json:"entity_id"`
	EntityKind   string                `json:"entity_kind"`
	EntityName   string                `json:"entity_name"`
	Proposals    []model.FieldProposal `json:"field_proposals"`
	Notes        string                `json:"notes,omitempty"`
	DataToUpdate map[string]any        `json:"data_to_update"`
	Sources      []string              `json:"sources,omitempty"`
}

// Target identifies the entity a run researches, with enough context to
// build queries and compare proposed values against current ones.
type Target struct {
	Kind     string // "port" or "operator"
	ID       string
	Name     string
	PortName string // operator context
	Country  string
	Current  map[string]any
	Fields   []string // empty selects the defaults for Kind
}

// ReportSaver persists the concatenated research text as the entity's last
// report. The implementation caps the byte size.
type ReportSaver interface {
	SaveResearchReport(ctx context.Context, entityKind, entityID, report string) error
}

// OrchestratorConfig carries the run-level tuning knobs.
type OrchestratorConfig struct {
	// RetryDelay is the fixed backoff before the single query retry.
	RetryDelay time.Duration

	// MaxResearchChars bounds the combined text sent to extraction.
	MaxResearchChars int

	// QueryModel overrides the provider's primary model when set.
	QueryModel string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxResearchChars <= 0 {
		c.MaxResearchChars = 48000
	}
	return c
}

// Orchestrator drives one entity through the staged research pipeline.
type Orchestrator struct {
	provider Provider
	llm      anthropic.Client
	llmModel string
	reports  ReportSaver
	vocab    validate.Vocabulary
	cfg      OrchestratorConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewOrchestrator wires a research orchestrator. reports may be nil, which
// skips report persistence.
func NewOrchestrator(provider Provider, llm anthropic.Client, llmModel string, reports ReportSaver, vocab validate.Vocabulary, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		llm:      llm,
		llmModel: llmModel,
		reports:  reports,
		vocab:    vocab,
		cfg:      cfg.withDefaults(),
		log:      zap.L().With(zap.String("component", "orchestrator")),
		now:      time.Now,
	}
}

// Run executes the full pipeline and streams events until the channel
// closes. The last event is either complete or error.
func (o *Orchestrator) Run(ctx context.Context, target Target) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, target, &emitter{events: events})
	}()
	return events
}

// emitter serializes events and enforces monotonic progress.
type emitter struct {
	events chan<- Event
	max    int
}

func (e *emitter) send(ev Event) {
	if ev.Progress < e.max {
		ev.Progress = e.max
	}
	e.max = ev.Progress
	e.events <- ev
}

func (e *emitter) status(step, message string, progress int) {
	e.send(Event{Type: EventStatus, Step: step, Message: message, Progress: progress})
}

func (o *Orchestrator) run(ctx context.Context, target Target, emit *emitter) {
	if len(target.Fields) == 0 {
		target.Fields = defaultFields(target.Kind)
	}
	log := o.log.With(zap.String("entity", target.Name), zap.String("kind", target.Kind))

	emit.status("init", fmt.Sprintf("Starting deep research for %s", target.Name), 0)

	runs := buildQueries(target)
	emit.status("queries", fmt.Sprintf("Running %d research queries in parallel", len(runs)), 10)

	var retried atomic.Bool
	var g errgroup.Group
	for i := range runs {
		run := &runs[i]
		g.Go(func() error {
			if o.executeQuery(ctx, run) {
				retried.Store(true)
			}
			if run.Err != nil {
				log.Warn("query failed, omitting its contribution",
					zap.String("query", run.Name), zap.Error(run.Err))
			}
			return nil
		})
	}
	_ = g.Wait()
	emit.status("queries", "Research queries finished", 40)

	if retried.Load() {
		emit.status("retry", "Retried failed queries", 50)
	}

	succeeded := 0
	for i := range runs {
		if runs[i].Err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		first := runs[0].Err
		log.Warn("all research queries failed", zap.Error(first))
		emit.send(Event{Type: EventError, Error: Classify(first, "all research queries failed")})
		return
	}

	combined, sources := combineRuns(runs)

	emit.status("extract", "Extracting structured fields", 55)
	fields, err := o.extract(ctx, target, combined)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		emit.send(Event{Type: EventError, Error: Classify(err, "extraction failed")})
		return
	}

	emit.status("confidence", "Scoring confidence", 65)
	heuristic := HeuristicConfidence(combined, sources, o.now())
	for name, f := range fields {
		f.Confidence = BlendConfidence(f.Confidence, heuristic)
		fields[name] = f
	}

	emit.status("validate", "Validating extracted values", 70)
	validations := make(map[string]validate.Result, len(fields))
	for name, f := range fields {
		res := o.validateField(name, f.Value)
		if res.CorrectedValue != nil {
			f.Value = res.CorrectedValue
			fields[name] = f
		}
		validations[name] = res
	}

	emit.status("conflicts", "Detecting conflicting findings", 80)
	conflicts := DetectConflicts(ctx, o.llm, o.llmModel, target.Kind, runs, fields)

	emit.status("recommend", "Evaluating which updates to recommend", 90)
	candidates := make([]UpdateCandidate, 0, len(fields))
	for _, name := range sortedFieldNames(fields) {
		candidates = append(candidates, UpdateCandidate{
			Field:         name,
			CurrentValue:  target.Current[name],
			ProposedValue: fields[name].Value,
			Confidence:    fields[name].Confidence,
		})
	}
	recs := RecommendUpdates(ctx, o.llm, o.llmModel, target.Kind, candidates)

	emit.status("notes", "Assembling research notes", 95)
	notes := notesDelta(fields, runs, sources, o.now())

	preview := o.buildPreview(target, fields, validations, conflicts, recs, notes, sources)

	if o.reports != nil {
		if err := o.reports.SaveResearchReport(ctx, target.Kind, target.ID, combined); err != nil {
			log.Warn("report persistence failed", zap.Error(err))
			emit.send(Event{
				Type:    EventReportError,
				Message: "research succeeded but the report could not be saved; results may not survive a refresh",
				Error:   NewError(CategoryDatabase, "orchestrator: save research report", err),
			})
		}
	}

	emit.send(Event{Type: EventPreview, Progress: 98, Preview: preview})
	emit.send(Event{Type: EventComplete, Message: "Research complete", Progress: 100})
}

// executeQuery runs one research query under the standard retry policy: a
// single fixed-delay retry of retryable failures only. Aborts and auth
// failures are not retried. Reports whether a retry ran.
func (o *Orchestrator) executeQuery(ctx context.Context, run *QueryRun) (retried bool) {
	result, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: 2,
		Delay:       o.cfg.RetryDelay,
		Multiplier:  1.0,
		ShouldRetry: IsRetryable,
		OnRetry: func(attempt int, err error) {
			retried = true
			o.log.Warn("retrying research query",
				zap.String("query", run.Name), zap.Int("attempt", attempt), zap.Error(err))
		},
	}, func(ctx context.Context) (*QueryResult, error) {
		return o.provider.ExecuteResearchQuery(ctx, run.Query, run.Name, researchSystemPrompt, o.cfg.QueryModel)
	})
	if err != nil {
		run.Err = err
		return retried
	}
	run.Content = result.Content
	run.Sources = result.Sources
	run.Err = nil
	return retried
}

func (o *Orchestrator) extract(ctx context.Context, target Target, combined string) (map[string]ExtractedField, error) {
	if o.llm == nil {
		return nil, NewError(CategoryValidation, "orchestrator: no extraction model configured", nil)
	}
	resp, err := o.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     o.llmModel,
		MaxTokens: 4096,
		System:    extractSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: BuildExtractionPrompt(target.Kind, target.Name, target.Fields, combined, o.cfg.MaxResearchChars),
		}},
	})
	if err != nil {
		return nil, Classify(err, "orchestrator: extraction call")
	}
	return ParseExtraction(resp.Text())
}

func (o *Orchestrator) validateField(name string, value any) validate.Result {
	switch name {
	case "name":
		if s, ok := value.(string); ok {
			return validate.Name(s)
		}
	case "size":
		if s, ok := value.(string); ok {
			return validate.PortSize(s)
		}
	case "strategic_importance", "importance":
		if s, ok := value.(string); ok {
			return validate.Importance(s)
		}
	case "operator_type":
		if s, ok := value.(string); ok {
			return validate.OperatorType(s)
		}
	case "capacity", "annual_capacity":
		if s, ok := value.(string); ok {
			return validate.Capacity(s, o.vocab)
		}
	case "cargo_types":
		if list, ok := toStringSlice(value); ok {
			return validate.CargoTypes(list, o.vocab)
		}
	case "coordinates":
		if c, ok := toCoordinates(value); ok {
			return validate.Coordinates(c)
		}
		return validate.Result{Errors: []string{"coordinates are not a latitude/longitude pair"}}
	}
	return validate.Result{IsValid: true}
}

func (o *Orchestrator) buildPreview(target Target, fields map[string]ExtractedField, validations map[string]validate.Result, conflicts map[string][]model.FieldConflict, recs map[string]Recommendation, notes string, sources []string) *Preview {
	proposals := make([]model.FieldProposal, 0, len(fields))
	dataToUpdate := make(map[string]any, len(fields))

	for _, name := range sortedFieldNames(fields) {
		f := fields[name]
		rec := recs[name]
		res := validations[name]
		fc := conflicts[name]

		p := model.FieldProposal{
			Field:              name,
			CurrentValue:       target.Current[name],
			ProposedValue:      f.Value,
			Confidence:         f.Confidence,
			ShouldUpdate:       rec.ShouldUpdate,
			Reasoning:          rec.Reasoning,
			Sources:            sources,
			UpdatePriority:     rec.Priority,
			ValidationErrors:   res.Errors,
			ValidationWarnings: res.Warnings,
			Conflicts:          fc,
			HasConflict:        len(fc) > 0,
			AutoApproved:       name != "notes" && f.Confidence > model.AutoApplyThreshold,
		}
		proposals = append(proposals, p)
		dataToUpdate[name] = f.Value
	}

	if notes != "" {
		if _, proposed := fields["notes"]; !proposed {
			proposals = append(proposals, model.FieldProposal{
				Field:          "notes",
				CurrentValue:   target.Current["notes"],
				ProposedValue:  notes,
				Confidence:     legacyConfidence,
				ShouldUpdate:   true,
				Reasoning:      "research intelligence delta, always subject to review",
				UpdatePriority: model.PriorityLow,
			})
			dataToUpdate["notes"] = notes
		}
	}

	return &Preview{
		EntityID:     target.ID,
		EntityKind:   target.Kind,
		EntityName:   target.Name,
		Proposals:    proposals,
		Notes:        notes,
		DataToUpdate: dataToUpdate,
		Sources:      sources,
	}
}

const researchSystemPrompt = "You are a maritime industry researcher. Answer with specific, sourced facts about ports, terminals, and terminal operators. Prefer official port authority, operator, and government publications."

type querySpec struct {
	name     string
	template string
}

var portQueries = []querySpec{
	{"identity_location", "Identify the port %q%s: its official name, country, precise latitude and longitude, and the region or port cluster it belongs to."},
	{"capacity_operations", "Report the annual cargo capacity and throughput of the port %q%s, the cargo types it handles, and its relative size among ports in its region."},
	{"strategic_context", "Describe the strategic importance of the port %q%s: major terminal operators present, key infrastructure, and its role in regional supply chains."},
}

var operatorQueries = []querySpec{
	{"identity_parent", "Identify the terminal operator %q%s: its official name, operator type (global, regional, or local), and its parent companies or ownership structure."},
	{"capacity_cargo", "Report the handling capacity of terminal operator %q%s, the cargo types it handles, the terminals or locations it operates, and its address and coordinates."},
}

func buildQueries(target Target) []QueryRun {
	var specs []querySpec
	var context string
	switch target.Kind {
	case "operator":
		specs = operatorQueries
		if target.PortName != "" {
			context = fmt.Sprintf(" at the port of %s", target.PortName)
		}
	default:
		specs = portQueries
		if target.Country != "" {
			context = fmt.Sprintf(" in %s", target.Country)
		}
	}

	runs := make([]QueryRun, len(specs))
	for i, s := range specs {
		runs[i] = QueryRun{
			Name:  s.name,
			Query: fmt.Sprintf(s.template, target.Name, context),
		}
	}
	return runs
}

func defaultFields(kind string) []string {
	if kind == "operator" {
		return []string{"operator_type", "parent_companies", "capacity", "cargo_types", "coordinates", "address", "notes"}
	}
	return []string{"size", "strategic_importance", "annual_capacity", "cargo_types", "coordinates", "notes"}
}

// combineRuns concatenates successful query texts with headers and merges
// their sources, first seen wins.
func combineRuns(runs []QueryRun) (string, []string) {
	var b strings.Builder
	var sources []string
	seen := make(map[string]bool)

	for i := range runs {
		run := &runs[i]
		if run.Err != nil {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", run.Name, run.Content)
		for _, s := range run.Sources {
			if !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	return b.String(), sources
}

func notesDelta(fields map[string]ExtractedField, runs []QueryRun, sources []string, now time.Time) string {
	if f, ok := fields["notes"]; ok {
		if s, ok := f.Value.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	succeeded := 0
	for i := range runs {
		if runs[i].Err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		return ""
	}
	return fmt.Sprintf("Deep research on %s: %d of %d queries succeeded, %d sources collected.",
		now.Format("2006-01-02"), succeeded, len(runs), len(sources))
}

func sortedFieldNames(fields map[string]ExtractedField) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func toCoordinates(v any) (model.Coordinates, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return model.Coordinates{}, false
	}
	lat, latOK := coordNumber(obj, "latitude", "lat")
	lon, lonOK := coordNumber(obj, "longitude", "lng", "lon")
	if !latOK || !lonOK {
		return model.Coordinates{}, false
	}
	return model.Coordinates{Latitude: lat, Longitude: lon}, true
}

func coordNumber(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if f, ok := toFloat64(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}
