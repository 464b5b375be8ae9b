package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/metrics/export/internaldefs"
)

// Source provides the values to render. *tokutei.Engine implements it.
type Source interface {
	MetricsSnapshot() tokutei.MetricsSnapshot
	AuditDropped() uint64
}

type storeCounter interface {
	Len() int
}

// Exporter renders a Source on demand.
type Exporter struct {
	source Source
}

// NewExporter returns an exporter reading from engine.
func NewExporter(engine *tokutei.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource returns an exporter reading from any Source.
func NewExporterFromSource(source Source) *Exporter {
	return &Exporter{source: source}
}

func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}
	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)
	for _, def := range internaldefs.CounterDefs {
		writeSample(&b, def.Name, def.Help, "counter", snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&b, def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw)))
	}
	writeSample(&b, "tokutei_audit_dropped_total", "Audit events dropped by the dispatcher.", "counter", dropped)
	if sc, ok := p.source.(storeCounter); ok {
		writeSample(&b, "tokutei_active_stores", "Client stores currently held in memory.", "gauge", uint64(sc.Len()))
	}
	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name, help, kind string, value uint64) {
	writeHeader(b, name, help, kind)
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [internaldefs.BucketCount]uint64) {
	writeHeader(b, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString(`_bucket{le="`)
		b.WriteString(le)
		b.WriteString(`"} `)
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	b.WriteByte('\n')
	// Durations are bucketed only, so no sum is tracked.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}
