package insert

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-analyze/charts"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	statusApplied = "applied"
	statusFailed  = "failed"
	statusSkipped = "skipped"

	tableMaxRecords = 20
)

// chart color constants
var greenTextColor = charts.ColorGreenAlt3
var orangeTextColor = charts.ColorOrangeAlt1.WithAdjustHSL(0, .2, 0)
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// ReportMetrics summarizes a run of the engine.
type ReportMetrics struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	RunDuration   int64         `json:"run_ms"`
	Committed     bool          `json:"committed"`
	PatchCount    int           `json:"patch_count"`
	AppliedCount  int           `json:"applied_count"`
	FailedCount   int           `json:"failed_count"`
	SkippedCount  int           `json:"skipped_count"`
	Points        PointMetrics  `json:"points"`
	PatchDetails  []PatchReport `json:"patch_details"`
	ModifiedFiles []string      `json:"modified_files"`
	JournalCache  *CacheReport  `json:"journal_cache,omitempty"`
}

// CacheReport summarizes the journal index cache, only collected with storage metrics enabled.
type CacheReport struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Ratio   float64 `json:"ratio"`
	Summary string  `json:"summary"`
}

func newCacheReport(m *ristretto.Metrics) *CacheReport {
	if m == nil {
		return nil
	}
	return &CacheReport{Hits: m.Hits(), Misses: m.Misses(), Ratio: m.Ratio(), Summary: m.String()}
}

// PointMetrics counts insertion point outcomes.
type PointMetrics struct {
	Total    int `json:"total"`
	Primary  int `json:"primary"`  // accepted with short type names
	Fallback int `json:"fallback"` // accepted only once qualified
	Failed   int `json:"failed"`
	Pending  int `json:"pending"` // not attempted after an earlier failure
}

// PatchReport details the outcome of a single manifest entry.
type PatchReport struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Ordering int           `json:"ordering"`
	Target   string        `json:"target"`
	File     string        `json:"file"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Points   []PointReport `json:"points,omitempty"`
	Diff     string        `json:"diff,omitempty"`
}

// PointReport details a single insertion point.
type PointReport struct {
	Type         string `json:"type"`
	Line         int    `json:"line"`
	RelativeLine int    `json:"relative_line,omitempty"`
	State        string `json:"state"`
	Variant      string `json:"variant,omitempty"`
	Digest       string `json:"digest,omitempty"`
}

func newPointReport(o PointOutcome) PointReport {
	pr := PointReport{
		Type:    o.Point.Type.String(),
		Line:    o.Point.Line,
		State:   o.State.String(),
		Variant: string(o.Variant),
	}
	if o.Point.Type == PointRelative {
		pr.RelativeLine = o.Point.RelativeLine
	}
	if o.State == PointInserted {
		pr.Digest = FragmentDigest(o.Source)
	}
	return pr
}

// Tally recomputes the counters from the patch details.
func (r *ReportMetrics) Tally() {
	r.PatchCount = len(r.PatchDetails)
	r.AppliedCount, r.FailedCount, r.SkippedCount = 0, 0, 0
	r.Points = PointMetrics{}
	for _, p := range r.PatchDetails {
		switch p.Status {
		case statusApplied:
			r.AppliedCount++
		case statusFailed:
			r.FailedCount++
		case statusSkipped:
			r.SkippedCount++
		}
		for _, pt := range p.Points {
			r.Points.Total++
			switch {
			case pt.State == PointInserted.String() && pt.Variant == string(VariantFallback):
				r.Points.Fallback++
			case pt.State == PointInserted.String():
				r.Points.Primary++
			case pt.State == PointFailed.String():
				r.Points.Failed++
			default:
				r.Points.Pending++
			}
		}
	}
}

// ReportMap represents a report as an extensible map structure.
// Custom implementations can add additional fields before writing to JSON.
type ReportMap map[string]interface{}

// BuildReportMap converts the metrics into a ReportMap.
func BuildReportMap(report ReportMetrics) (ReportMap, error) {
	reportBytes, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report to bytes failed: %w", err)
	}
	var reportMap ReportMap
	if err := json.Unmarshal(reportBytes, &reportMap); err != nil {
		return nil, fmt.Errorf("unmarshal report to map failed: %w", err)
	}
	return reportMap, nil
}

// WriteToFile writes the report map as indented JSON, no-op for an empty path.
func (rm ReportMap) WriteToFile(path string) error {
	if path == "" {
		return nil
	}

	encodedReport, err := json.MarshalIndent(rm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report map failed: %w", err)
	}
	if err := os.WriteFile(path, encodedReport, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// FunctionDiff returns a unified diff of a function before and after patching.
func FunctionDiff(name, before, after string) string {
	if before == after {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: name + " (original)",
		ToFile:   name + " (patched)",
		Context:  2,
	}
	if text, err := difflib.GetUnifiedDiffString(diff); err == nil {
		return text
	}
	return fmt.Sprintf("'%v'\n!=\n'%v'", before, after) // fallback to basic format if unexpected diff error
}

// WriteReportCharts renders the report overview to path, the format is selected by extension.
func WriteReportCharts(path string, report ReportMetrics) error {
	var outputType string
	if strings.HasSuffix(path, ".png") {
		outputType = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		outputType = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		outputType = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	painterOpt := charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       768,
	}
	if buf, err := renderReportCharts(painterOpt, report); err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderReportChartsFromJson renders a previously written report to a png.
func RenderReportChartsFromJson(report ReportMetrics) ([]byte, error) {
	return renderReportCharts(charts.PainterOptions{
		OutputFormat: charts.ChartOutputPNG,
		Width:        1024,
		Height:       768,
	}, report)
}

func renderReportCharts(painterOpt charts.PainterOptions, report ReportMetrics) ([]byte, error) {
	root := charts.NewPainter(painterOpt)
	root.FilledRect(0, 0, root.Width(), root.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p := root.Child(charts.PainterPaddingOption(charts.NewBoxEqual(10)))

	painters, err := p.LayoutByRows().
		Row().Height("128").Columns("points", "patches").
		Row().Columns("table").
		Build()
	if err != nil {
		return nil, fmt.Errorf("error building chart layout: %w", err)
	}

	gaugeTheme := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
			charts.ColorRed,
		})

	pointsOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(report.Points.Primary)},
		{float64(report.Points.Fallback)},
		{float64(report.Points.Failed + report.Points.Pending)},
	})
	pointsOpt.StackSeries = charts.Ptr(true)
	pointsOpt.Theme = gaugeTheme
	pointsOpt.Title.Text = "Insertion Points"
	pointsOpt.XAxis.Unit = axisUnitForMax(report.Points.Total)
	pointsOpt.YAxis.Show = charts.Ptr(false)
	if err := painters["points"].HorizontalBarChart(pointsOpt); err != nil {
		return nil, fmt.Errorf("error rendering chart: %w", err)
	}

	patchesOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(report.AppliedCount)},
		{float64(report.SkippedCount)},
		{float64(report.FailedCount)},
	})
	patchesOpt.StackSeries = charts.Ptr(true)
	patchesOpt.Theme = gaugeTheme
	patchesOpt.Title.Text = "Patches Applied"
	patchesOpt.XAxis.Unit = axisUnitForMax(report.PatchCount)
	patchesOpt.YAxis.Show = charts.Ptr(false)
	if err := painters["patches"].HorizontalBarChart(patchesOpt); err != nil {
		return nil, fmt.Errorf("error rendering chart: %w", err)
	}

	if len(report.PatchDetails) > 0 {
		rows := make([][]string, 0, min(len(report.PatchDetails), tableMaxRecords))
		for _, pd := range report.PatchDetails {
			if len(rows) == tableMaxRecords {
				break
			}
			var inserted int
			for _, pt := range pd.Points {
				if pt.State == PointInserted.String() {
					inserted++
				}
			}
			rows = append(rows, []string{pd.Name, pd.Target, pd.Status,
				strconv.Itoa(inserted) + "/" + strconv.Itoa(len(pd.Points))})
		}
		defaultCellFontStyle := charts.FontStyle{
			FontSize:  12,
			FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
			Font:      charts.GetDefaultFont(),
		}
		tableOpt := charts.TableChartOption{
			Header:                []string{"Patch", "Target", "Status", "Points"},
			Data:                  rows,
			HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
			RowBackgroundColors: []charts.Color{
				{R: 240, G: 240, B: 240, A: 255},
				charts.ColorTransparent,
			},
			Padding:    charts.NewBoxEqual(10),
			Spans:      []int{20, 28, 8, 8},
			TextAligns: []string{charts.AlignLeft, charts.AlignLeft, charts.AlignCenter, charts.AlignCenter},
			CellModifier: func(cell charts.TableCell) charts.TableCell {
				if cell.Row == 0 {
					return cell
				}
				cell.FontStyle = defaultCellFontStyle // reset on each call to prevent prior changes persisting
				if cell.Column == 2 {
					switch cell.Text {
					case statusApplied:
						cell.FontStyle.FontColor = greenTextColor
					case statusSkipped:
						cell.FontStyle.FontColor = orangeTextColor
					default:
						cell.FontStyle.FontColor = redTextColor
					}
				}
				return cell
			},
		}
		if err := painters["table"].TableChart(tableOpt); err != nil {
			return nil, fmt.Errorf("error rendering table: %w", err)
		}
	}
	return root.Bytes()
}

func axisUnitForMax(val int) float64 {
	if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	}
	return 1
}
