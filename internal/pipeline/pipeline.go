// Package pipeline turns report PDFs and a DOCX template into a filled
// report: extract, count tokens, summarize oversized text chunk by chunk,
// generate, and write the document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"docfill/internal/chunker"
	"docfill/internal/docwriter"
	"docfill/internal/extractor"
	"docfill/internal/llm"
	"docfill/internal/tokens"
)

// Document is one uploaded file.
type Document struct {
	Name string
	Data []byte
}

type Input struct {
	Template Document
	Reports  []Document
}

// Result describes a run. Run returns it even on failure, filled in as far
// as the run got.
type Result struct {
	Text        string                 `json:"text"`
	Document    []byte                 `json:"-"`
	Context     string                 `json:"-"`
	TotalTokens int                    `json:"total_tokens"`
	Summarized  bool                   `json:"summarized"`
	Chunks      int                    `json:"chunks"`
	Summaries   int                    `json:"summaries"`
	Files       []extractor.FileResult `json:"files"`
	Warnings    []string               `json:"warnings"`
	Stage       Stage                  `json:"stage"`
	Err         error                  `json:"-"`
}

// Pipeline runs generations against one provider. It holds no state
// between runs; concurrent calls to Run are safe as long as Progress is.
type Pipeline struct {
	cfg      Config
	provider llm.Provider

	// Counter estimates tokens. Defaults to tokens.Default().
	Counter tokens.Counter
	// Progress, if set, receives every event of a run. Calls are serialized.
	Progress func(Event)
	// Metrics, if set, receives measurements.
	Metrics Recorder

	mu sync.Mutex
}

func New(cfg Config, provider llm.Provider) *Pipeline {
	return &Pipeline{cfg: cfg, provider: provider}
}

// Open validates cfg and the credential and builds the named provider.
func Open(cfg Config, providerName, apiKey, baseURL string) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if llm.NeedsAPIKey(providerName) && strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrNoCredential, providerName)
	}
	provider, err := llm.NewProvider(providerName, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	return New(cfg, provider), nil
}

func (p *Pipeline) Config() Config { return p.cfg }

// run carries the per-call state so a Pipeline can be shared.
type run struct {
	p       *Pipeline
	res     *Result
	metrics Recorder
	started time.Time
}

// Run executes one generation. Fatal errors wrap one of the package's
// sentinel errors; everything else ends up in Result.Warnings.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	r := &run{p: p, res: &Result{Stage: StageIdle}, metrics: p.Metrics, started: time.Now()}
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if err := p.cfg.Validate(); err != nil {
		return r.fail(fmt.Errorf("invalid configuration: %w", err))
	}
	counter := p.Counter
	if counter == nil {
		counter = tokens.Default()
	}
	res := r.res

	// Extracting
	r.enter(StageExtracting, "Reading template and reports...")
	template, err := extractor.ExtractDOCX(in.Template.Data)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %s: %v", ErrTemplate, in.Template.Name, err))
	}
	if strings.TrimSpace(template) == "" {
		return r.fail(fmt.Errorf("%w: %s contains no text", ErrTemplate, in.Template.Name))
	}

	sources := make([]extractor.Source, len(in.Reports))
	for i, d := range in.Reports {
		sources[i] = extractor.Source{Name: d.Name, Data: d.Data}
	}
	done := 0
	reportText, files := extractor.ExtractPDFs(sources, func(fr extractor.FileResult) {
		done++
		r.metrics.PDF(fr.Status)
		if fr.Failed() {
			msg := fmt.Sprintf("Could not read %s: %s", fr.Name, fr.Error)
			res.Warnings = append(res.Warnings, msg)
			r.emit(Event{Stage: StageExtracting, Level: LevelWarn, Message: msg, Done: done, Total: len(sources)})
			return
		}
		r.emit(Event{Stage: StageExtracting, Level: LevelInfo,
			Message: fmt.Sprintf("Read %s (%d pages)", fr.Name, fr.Pages), Done: done, Total: len(sources)})
	})
	res.Files = files
	if strings.TrimSpace(reportText) == "" {
		return r.fail(fmt.Errorf("%w (%d files)", ErrNoReportText, len(sources)))
	}

	// TokenCounting
	r.enter(StageTokenCounting, "Estimating tokens...")
	res.TotalTokens = counter.Count(reportText + template)
	r.metrics.Tokens(res.TotalTokens)
	r.info(StageTokenCounting, fmt.Sprintf("Estimated total tokens: %d", res.TotalTokens))

	reportContext := reportText
	if res.TotalTokens > p.cfg.TokenLimit {
		res.Summarized = true
		chunks, err := chunker.Split(reportText, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if err != nil {
			return r.fail(fmt.Errorf("invalid configuration: %w", err))
		}
		res.Chunks = len(chunks)
		r.enter(StageSummarizing, fmt.Sprintf("Content exceeds %d tokens, summarizing %d chunks...", p.cfg.TokenLimit, len(chunks)))

		summaries := r.summarizeAll(ctx, chunks)
		if err := ctx.Err(); err != nil {
			return r.fail(fmt.Errorf("%w: %v", ErrGeneration, err))
		}

		r.enter(StageReducing, "Combining summaries...")
		for _, s := range summaries {
			if s != "" {
				res.Summaries++
			}
		}
		reportContext = Reduce(summaries)
		r.info(StageReducing, fmt.Sprintf("Condensed %d chunks into %d summaries", res.Chunks, res.Summaries))
	} else {
		r.enter(StageReducing, "Content fits the budget, using it as is")
	}
	res.Context = reportContext

	// Generating
	r.enter(StageGenerating, "Generating the final report...")
	gen := Generator{Provider: p.provider, Model: p.cfg.CapableModel, Temperature: p.cfg.GenerateTemperature, Metrics: r.metrics}
	text, err := gen.Generate(ctx, reportContext, template)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %v", ErrGeneration, err))
	}
	res.Text = text

	// Writing
	r.enter(StageWriting, "Writing document...")
	doc, err := docwriter.Write(text)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %v", ErrWrite, err))
	}
	res.Document = doc

	r.enter(StageDone, "Report ready")
	r.metrics.Run(string(StageDone), time.Since(r.started))
	return res, nil
}

// summarizeAll returns one summary per chunk, in chunk order. Failed and
// blank chunks leave an empty entry and, for failures, a warning.
func (r *run) summarizeAll(ctx context.Context, chunks []chunker.Chunk) []string {
	cfg := r.p.cfg
	s := Summarizer{Provider: r.p.provider, Model: cfg.FastModel, Temperature: cfg.SummaryTemperature, Metrics: r.metrics}
	summaries := make([]string, len(chunks))
	warnings := make([]string, len(chunks))
	var completed atomic.Int32

	one := func(ctx context.Context, i int) {
		defer func() {
			n := int(completed.Add(1))
			r.emit(Event{Stage: StageSummarizing, Level: LevelInfo,
				Message: fmt.Sprintf("Summarized chunk %d/%d", n, len(chunks)), Done: n, Total: len(chunks)})
		}()
		if strings.TrimSpace(chunks[i].Text) == "" {
			return
		}
		text, err := s.Summarize(ctx, chunks[i].Text)
		if err != nil {
			warnings[i] = fmt.Sprintf("Could not summarize chunk %d/%d: %v", i+1, len(chunks), err)
			r.emit(Event{Stage: StageSummarizing, Level: LevelWarn, Message: warnings[i]})
			return
		}
		summaries[i] = text
	}

	if cfg.Concurrency <= 1 {
		for i := range chunks {
			one(ctx, i)
		}
	} else {
		// Chunk failures are warnings, so workers never return an error and
		// the group context is only cancelled by the parent.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for i := range chunks {
			i := i
			g.Go(func() error {
				one(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, w := range warnings {
		if w != "" {
			r.res.Warnings = append(r.res.Warnings, w)
		}
	}
	return summaries
}

func (r *run) enter(stage Stage, msg string) {
	r.res.Stage = stage
	r.emit(Event{Stage: stage, Level: LevelInfo, Message: msg})
}

func (r *run) info(stage Stage, msg string) {
	r.emit(Event{Stage: stage, Level: LevelInfo, Message: msg})
}

func (r *run) emit(ev Event) {
	if r.p.Progress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	r.p.Progress(ev)
}

func (r *run) fail(err error) (*Result, error) {
	failedAt := r.res.Stage
	r.res.Stage = StageFailed
	r.res.Err = err
	r.emit(Event{Stage: StageFailed, Level: LevelError, Message: err.Error()})
	r.metrics.Run(string(failedAt), time.Since(r.started))
	return r.res, err
}

// IsInputError reports whether err was caused by the uploaded files rather
// than the model or the writer.
func IsInputError(err error) bool {
	return errors.Is(err, ErrTemplate) || errors.Is(err, ErrNoReportText)
}
