package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is satisfied by *linkAuth.Engine.
type Source interface {
	MetricsSnapshot() linkAuth.MetricsSnapshot
	AuditDropped() uint64
}

type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current snapshot on every request.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_ = e.Write(w)
	})
}

// Render returns the exposition text, or "" when metrics are disabled and
// nothing was dropped.
func (e *Exporter) Render() string {
	var b strings.Builder
	_ = e.Write(&b)
	return b.String()
}

// Write streams the exposition text to w.
func (e *Exporter) Write(w io.Writer) error {
	if e == nil || e.source == nil {
		return nil
	}
	snap := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	bw := bufio.NewWriter(w)
	for _, f := range internaldefs.Counters {
		writeHeader(bw, f.Name, f.Help, "counter")
		fmt.Fprintf(bw, "%s %d\n", f.Name, snap.Counters[f.ID])
	}

	if raw, ok := snap.Histograms[internaldefs.Latency.ID]; ok {
		f := internaldefs.Latency
		buckets := internaldefs.Cumulative(raw)
		writeHeader(bw, f.Name, f.Help, "histogram")
		for i, n := range buckets {
			fmt.Fprintf(bw, "%s_bucket{le=%q} %d\n", f.Name, internaldefs.BucketLabel(i), n)
		}
		// the engine keeps counts only
		fmt.Fprintf(bw, "%s_sum 0\n%s_count %d\n", f.Name, f.Name, buckets[len(buckets)-1])
	}

	writeHeader(bw, internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	fmt.Fprintf(bw, "%s %d\n", internaldefs.AuditDroppedName, dropped)
	return bw.Flush()
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func writeHeader(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}
