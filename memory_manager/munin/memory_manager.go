package munin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	memorymanager "github.com/w-h-a/workmem/memory_manager"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/w-h-a/workmem/memory_manager/munin")

type muninMemoryManager struct {
	options memorymanager.Options
}

func (m *muninMemoryManager) Capture(ctx context.Context, turn memorymanager.Turn) (memorymanager.Decision, error) {
	ctx, span := tracer.Start(ctx, "munin.Capture")
	defer span.End()

	if err := ctx.Err(); err != nil {
		decision := memorymanager.Decision{Action: memorymanager.ActionNew}
		return m.drop(ctx, span, decision, fmt.Errorf("capture canceled: %w", err)), nil
	}

	content := strings.TrimSpace(turn.Content)
	if len(content) == 0 {
		captureTotal.WithLabelValues(string(memorymanager.ActionSkip)).Inc()
		return memorymanager.Decision{Action: memorymanager.ActionSkip}, nil
	}

	refs, err := m.options.Storer.Recent(ctx, m.options.Limits.ClassifierRefs, m.options.Window)
	if err != nil {
		slog.WarnContext(ctx, "failed to load classifier references", "error", err)
		refs = nil
	}

	decision := m.classify(ctx, content, refs)

	span.SetAttributes(
		attribute.String("workmem.action", string(decision.Action)),
		attribute.Bool("workmem.fallback", decision.Fallback),
	)

	if decision.Fallback {
		captureFallbacks.Inc()
	}

	if decision.Action == memorymanager.ActionSkip {
		captureTotal.WithLabelValues(string(decision.Action)).Inc()
		slog.DebugContext(ctx, "turn skipped", "session", turn.SessionKey)
		return decision, nil
	}

	vec, err := m.options.Embedder.Embed(ctx, decision.Summary)
	if err != nil {
		return m.drop(ctx, span, decision, fmt.Errorf("failed to embed summary: %w", err)), nil
	}

	if decision.Action == memorymanager.ActionUpdate {
		if err := m.options.Storer.Delete(ctx, decision.TargetId); err != nil {
			// keep the new summary rather than lose it
			slog.WarnContext(ctx, "failed to replace entry, storing as new", "target", decision.TargetId, "error", err)
			decision.Action = memorymanager.ActionNew
			decision.TargetId = ""
		}
	}

	signals := memorymanager.DetectSignals(content + "\n" + decision.Summary)

	rec, err := m.options.Storer.Insert(ctx, storer.Record{
		Summary:     decision.Summary,
		Embedding:   vec,
		SessionKey:  turn.SessionKey,
		Origin:      storer.OriginFromSessionKey(turn.SessionKey),
		HasAction:   signals.HasAction,
		HasDecision: signals.HasDecision,
		Topics:      signals.Topics,
		Reference:   turn.Reference,
	})
	if err != nil {
		return m.drop(ctx, span, decision, fmt.Errorf("failed to insert entry: %w", err)), nil
	}

	decision.Record = rec

	captureTotal.WithLabelValues(string(decision.Action)).Inc()

	slog.InfoContext(ctx, "turn captured", "session", turn.SessionKey, "action", decision.Action, "id", rec.Id, "target", decision.TargetId)

	return decision, nil
}

func (m *muninMemoryManager) classify(ctx context.Context, content string, refs []storer.Record) memorymanager.Decision {
	maxLength := m.options.Limits.MaxSummaryLength

	fallback := memorymanager.Decision{
		Action:   memorymanager.ActionNew,
		Summary:  memorymanager.Summarize(content, maxLength),
		Fallback: true,
	}

	if m.options.Generator == nil {
		return fallback
	}

	raw, err := m.options.Generator.Generate(ctx, memorymanager.ClassifyPrompt(content, refs, maxLength))
	if err != nil {
		slog.WarnContext(ctx, "classifier unavailable, using rule-based summary", "error", err)
		return fallback
	}

	verdict := memorymanager.ParseVerdict(raw)
	if verdict.Kind == memorymanager.VerdictUnparsed {
		slog.WarnContext(ctx, "unparsed classifier reply, storing as new", "reply", raw)
	}

	decision := memorymanager.Resolve(verdict, raw, refs, m.options.Thresholds.MinUpdateLength)

	if decision.Action != memorymanager.ActionSkip {
		if len(decision.Summary) == 0 {
			return fallback
		}
		decision.Summary = memorymanager.Summarize(decision.Summary, maxLength)
	}

	return decision
}

func (m *muninMemoryManager) drop(ctx context.Context, span trace.Span, decision memorymanager.Decision, err error) memorymanager.Decision {
	slog.WarnContext(ctx, "capture dropped", "action", decision.Action, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	captureDropped.Inc()
	decision.Dropped = true
	return decision
}

func (m *muninMemoryManager) Recall(ctx context.Context, sessionKey string, prompt string) (memorymanager.Recollection, error) {
	ctx, span := tracer.Start(ctx, "munin.Recall")
	defer span.End()

	now := time.Now().UTC()

	var recent []storer.Record
	var vec []float32

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		recent, err = m.options.Storer.Recent(gctx, m.options.Limits.RecentFetch, m.options.Window)
		return err
	})

	if len(strings.TrimSpace(prompt)) > 0 {
		g.Go(func() error {
			var err error
			vec, err = m.options.Embedder.Embed(gctx, prompt)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return m.degrade(ctx, span, err), nil
	}

	var similar []storer.Record

	if len(vec) > 0 {
		found, err := m.options.Storer.Search(ctx, vec, m.options.Limits.SearchFetch)
		if err != nil {
			return m.degrade(ctx, span, err), nil
		}

		cutoff := now.Add(-m.options.Window)
		for _, rec := range found {
			if float64(rec.Score) < m.options.Thresholds.MinSimilarity {
				continue
			}
			if m.options.Window > 0 && rec.CreatedAt.Before(cutoff) {
				continue
			}
			similar = append(similar, rec)
		}
	}

	scored := memorymanager.Assemble(recent, similar, memorymanager.AssembleParams{
		ScoreParams: memorymanager.ScoreParams{
			SessionKey: sessionKey,
			Now:        now,
			HalfLife:   m.options.Thresholds.HalfLife,
		},
		MaxEntries:       m.options.Limits.MaxEntries,
		DedupWindow:      m.options.Thresholds.DedupWindow,
		JaccardThreshold: m.options.Thresholds.Jaccard,
	})

	chronological, ranked := memorymanager.Split(scored, m.options.Recent, now)

	recallEntries.Observe(float64(len(scored)))

	span.SetAttributes(
		attribute.Int("workmem.recent", len(recent)),
		attribute.Int("workmem.similar", len(similar)),
		attribute.Int("workmem.entries", len(scored)),
	)

	slog.DebugContext(ctx, "recall assembled", "session", sessionKey, "chronological", len(chronological), "ranked", len(ranked))

	return memorymanager.Recollection{
		Chronological: chronological,
		Ranked:        ranked,
		Text:          memorymanager.Format(chronological, ranked, now),
	}, nil
}

func (m *muninMemoryManager) degrade(ctx context.Context, span trace.Span, err error) memorymanager.Recollection {
	slog.WarnContext(ctx, "recall degraded to empty", "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	recallDegraded.Inc()
	return memorymanager.Recollection{
		Chronological: []memorymanager.ScoredRecord{},
		Ranked:        []memorymanager.ScoredRecord{},
	}
}

func (m *muninMemoryManager) Consolidate(ctx context.Context, opts ...memorymanager.ConsolidateOption) (memorymanager.ConsolidationReport, error) {
	options := memorymanager.NewConsolidateOptions(opts...)

	ctx, span := tracer.Start(ctx, "munin.Consolidate")
	defer span.End()

	report := memorymanager.ConsolidationReport{
		DryRun:   options.DryRun,
		Clusters: []memorymanager.ClusterReport{},
	}

	if !options.DryRun && options.Backup == nil {
		return report, memorymanager.ErrBackupRequired
	}

	threshold := options.Threshold
	if threshold <= 0 {
		threshold = m.options.Thresholds.Consolidation
	}

	records, err := m.options.Storer.Scan(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to scan store: %w", err)
	}

	report.Scanned = len(records)

	clusters := memorymanager.Cluster(records, threshold)

	span.SetAttributes(
		attribute.Bool("workmem.dry_run", options.DryRun),
		attribute.Int("workmem.scanned", len(records)),
		attribute.Int("workmem.clusters", len(clusters)),
	)

	if options.DryRun {
		for _, cluster := range clusters {
			report.Clusters = append(report.Clusters, describe(cluster))
		}
		return report, nil
	}

	if len(clusters) == 0 {
		return report, nil
	}

	if err := memorymanager.WriteBackup(options.Backup, records); err != nil {
		return report, fmt.Errorf("failed to back up store: %w", err)
	}

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		cr, removed := m.merge(ctx, cluster)

		report.Removed += removed
		report.Clusters = append(report.Clusters, cr)

		if len(cr.Error) > 0 {
			report.Failed++
			consolidationFailures.Inc()
		}

		if len(cr.NewId) > 0 {
			report.Merged++
			consolidationMerges.Inc()
		}
	}

	slog.InfoContext(ctx, "consolidation finished", "scanned", report.Scanned, "merged", report.Merged, "removed", report.Removed, "failed", report.Failed)

	return report, nil
}

func (m *muninMemoryManager) merge(ctx context.Context, cluster []storer.Record) (memorymanager.ClusterReport, int) {
	cr := describe(cluster)

	raw := ""
	if m.options.Generator != nil {
		var err error
		raw, err = m.options.Generator.Generate(ctx, memorymanager.MergePrompt(cluster, m.options.Limits.MaxSummaryLength))
		if err != nil {
			slog.WarnContext(ctx, "merge generation failed, keeping newest summary", "members", cr.MemberIds, "error", err)
			raw = ""
		}
	}

	summary, fallback := memorymanager.MergedSummary(raw, cluster, m.options.Thresholds.MinMergeLength)
	summary = memorymanager.Summarize(summary, m.options.Limits.MaxSummaryLength)

	cr.Merged = summary
	cr.Fallback = fallback

	vec, err := m.embedWithRetry(ctx, summary)
	if err != nil {
		slog.ErrorContext(ctx, "failed to embed merged summary, cluster left intact", "members", cr.MemberIds, "error", err)
		cr.Error = err.Error()
		return cr, 0
	}

	var errs []error
	removed := 0

	for _, rec := range cluster {
		if err := m.options.Storer.Delete(ctx, rec.Id); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", rec.Id, err))
			continue
		}
		removed++
	}

	merged := memorymanager.Merge(cluster, summary)
	merged.Embedding = vec

	stored, err := m.options.Storer.Insert(ctx, merged)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to insert merged entry: %w", err))
	} else {
		cr.NewId = stored.Id
	}

	if err := errors.Join(errs...); err != nil {
		slog.ErrorContext(ctx, "cluster merge incomplete", "members", cr.MemberIds, "error", err)
		cr.Error = err.Error()
	}

	return cr, removed
}

func (m *muninMemoryManager) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	tries := m.options.Limits.EmbedRetries
	if tries < 1 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.options.RetryInterval

	return backoff.Retry(
		ctx,
		func() ([]float32, error) {
			return m.options.Embedder.Embed(ctx, text)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
	)
}

func describe(cluster []storer.Record) memorymanager.ClusterReport {
	cr := memorymanager.ClusterReport{}
	for _, rec := range cluster {
		cr.MemberIds = append(cr.MemberIds, rec.Id)
		cr.Summaries = append(cr.Summaries, rec.Summary)
	}
	return cr
}

func (m *muninMemoryManager) Prune(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "munin.Prune")
	defer span.End()

	if m.options.Window <= 0 {
		return 0, nil
	}

	records, err := m.options.Storer.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan store: %w", err)
	}

	cutoff := time.Now().UTC().Add(-m.options.Window)
	pruned := 0

	for _, rec := range records {
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.options.Storer.Delete(ctx, rec.Id); err != nil {
			return pruned, fmt.Errorf("failed to prune %s: %w", rec.Id, err)
		}
		pruned++
	}

	prunedTotal.Add(float64(pruned))
	span.SetAttributes(attribute.Int("workmem.pruned", pruned))

	if pruned > 0 {
		slog.InfoContext(ctx, "pruned expired entries", "count", pruned, "window", m.options.Window)
	}

	return pruned, nil
}

func (m *muninMemoryManager) Restore(ctx context.Context, r io.Reader) (int, error) {
	ctx, span := tracer.Start(ctx, "munin.Restore")
	defer span.End()

	records, err := memorymanager.ReadBackup(r)
	if err != nil {
		return 0, err
	}

	existing, err := m.options.Storer.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan store: %w", err)
	}

	present := map[string]struct{}{}
	for _, rec := range existing {
		present[restoreKey(rec)] = struct{}{}
	}

	restored := 0

	for _, rec := range records {
		key := restoreKey(rec)
		if _, ok := present[key]; ok {
			continue
		}

		if _, err := m.options.Storer.Insert(ctx, rec); err != nil {
			return restored, fmt.Errorf("failed to restore %s: %w", rec.Id, err)
		}

		present[key] = struct{}{}
		restored++
	}

	span.SetAttributes(attribute.Int("workmem.restored", restored))

	slog.InfoContext(ctx, "restored entries", "count", restored, "skipped", len(records)-restored)

	return restored, nil
}

func restoreKey(rec storer.Record) string {
	return fmt.Sprintf("%d|%s", rec.CreatedAt.UnixMilli(), rec.Summary)
}

func NewMemoryManager(opts ...memorymanager.Option) memorymanager.MemoryManager {
	options := memorymanager.NewOptions(opts...)

	if options.Storer == nil || options.Embedder == nil {
		slog.ErrorContext(options.Context, "munin requires a storer and an embedder")
		panic("munin requires a storer and an embedder")
	}

	m := &muninMemoryManager{
		options: options,
	}

	return m
}
