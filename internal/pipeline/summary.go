package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/cleaner"
	"github.com/backmassage/metascrub/internal/display"
	"github.com/backmassage/metascrub/internal/term"
)

// PrintSummary renders the report: the per-category table to w, then the
// totals, strategies, backup root and failure list through log. With
// verbose, a projected report also lists the planned strategy per file.
func PrintSummary(w io.Writer, r *RunReport, log Logger, verbose bool) {
	log.Info("==============================")
	if r.Projected {
		log.Info("Projected summary (dry run, nothing was modified)")
	} else {
		log.Info("Summary")
	}
	log.Info("Run ID: %s", r.RunID)

	var buf bytes.Buffer
	categoryTable(r).Render(&buf)
	fmt.Fprint(w, buf.String())

	log.Info("Files: %d processed of %d found (%d cleaned, %d partial, %d skipped, %d failed)",
		r.Processed(), r.Discovered,
		r.Total(cleaner.Cleaned), r.Total(cleaner.PartiallyCleaned),
		r.Total(cleaner.Skipped), r.Total(cleaner.Failed))

	if len(r.Strategies) > 0 {
		log.Info("Methods: %s", strategyList(r.Strategies))
	}

	switch {
	case r.Projected:
		log.Info("Space reclaimed: n/a (dry run)")
	case r.BytesReclaimed >= 0:
		log.Success("Space reclaimed: %s", display.FormatBytes(r.BytesReclaimed))
	default:
		log.Warn("Space reclaimed: %s (cleaned files grew)", display.FormatBytesWithSign(r.BytesReclaimed))
	}
	log.Info("Elapsed: %s", display.FormatDuration(r.Elapsed))
	if r.BackupRoot != "" {
		log.Info("Backups: %s", r.BackupRoot)
	}

	if verbose && r.Projected {
		planned := append([]cleaner.Outcome(nil), r.Outcomes...)
		sort.Slice(planned, func(i, j int) bool { return planned[i].Task.RelPath < planned[j].Task.RelPath })
		for _, o := range planned {
			if o.Status == cleaner.Skipped || o.Status == cleaner.Failed {
				continue
			}
			log.Debug("  plan %s: %s (%s tier)", o.Task.RelPath, o.Strategy, o.Tier)
		}
	}

	if len(r.Failures) > 0 {
		log.Error("%d file(s) failed:", len(r.Failures))
		for _, f := range r.Failures {
			log.Error("  [%s] %s: %s", f.Kind, f.Path, f.Reason)
		}
	}
	if r.Interrupted {
		log.Warn("Run was interrupted; %d file(s) not processed", r.Discovered-r.Processed())
	}
}

// categoryTable builds the category x status count table.
func categoryTable(r *RunReport) *display.Table {
	t := display.NewTable("Category", "Cleaned", "Partial", "Skipped", "Failed")
	for _, c := range classify.Categories {
		byStatus, ok := r.Counts[c]
		if !ok {
			continue
		}
		row := []string{c.String()}
		for _, s := range cleaner.Statuses {
			row = append(row, strconv.Itoa(byStatus[s]))
		}
		t.Row(row...)
		if byStatus[cleaner.Failed] > 0 {
			t.Color(t.Len()-1, len(row)-1, term.Red)
		}
	}
	return t
}

func strategyList(m map[cleaner.Strategy]int) string {
	names := make([]string, 0, len(m))
	for s := range m {
		names = append(names, string(s))
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s %d", n, m[cleaner.Strategy(n)])
	}
	return strings.Join(parts, ", ")
}
