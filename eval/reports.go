package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// 运行产物文件名。latest.json 是指针文件：门禁在未指定运行时读它。
const (
	SummaryJSONName = "summary.json"
	SummaryMDName   = "summary.md"
	CasesCSVName    = "cases.csv"
	RegressionsName = "regressions.md"
	LatestName      = "latest.json"
)

// LatestPointer 最近一次运行的指针。
type LatestPointer struct {
	RunID       string    `json:"runId"`
	SummaryPath string    `json:"summaryPath"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WriteReports 把一次运行的全部产物写到 dir/<runId>/ 下，
// 并更新 dir/latest.json 指针。返回 summary.json 的路径。
func WriteReports(dir string, summary *Summary, results []CaseResult) (string, error) {
	runDir := filepath.Join(dir, summary.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	summaryPath := filepath.Join(runDir, SummaryJSONName)
	if err := writeJSON(summaryPath, summary); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, SummaryMDName), []byte(renderSummaryMD(summary)), 0o644); err != nil {
		return "", fmt.Errorf("write summary.md: %w", err)
	}
	if err := writeCasesCSV(filepath.Join(runDir, CasesCSVName), results); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, RegressionsName), []byte(renderRegressionsMD(results)), 0o644); err != nil {
		return "", fmt.Errorf("write regressions.md: %w", err)
	}

	pointer := LatestPointer{RunID: summary.RunID, SummaryPath: summaryPath, CreatedAt: summary.CreatedAt}
	if err := writeJSON(filepath.Join(dir, LatestName), pointer); err != nil {
		return "", err
	}
	return summaryPath, nil
}

// LoadSummary 读回一份运行汇总。
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &s, nil
}

// LatestSummaryPath 跟随 latest.json 指针找到最近一次运行的汇总。
func LatestSummaryPath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, LatestName))
	if err != nil {
		return "", fmt.Errorf("read latest pointer: %w", err)
	}
	var p LatestPointer
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("parse latest pointer: %w", err)
	}
	if p.SummaryPath == "" {
		return "", fmt.Errorf("latest pointer has no summary path")
	}
	return p.SummaryPath, nil
}

// MetaPath 数据集伴生元信息文件的路径。
func MetaPath(datasetPath string) string {
	return strings.TrimSuffix(datasetPath, filepath.Ext(datasetPath)) + ".meta.json"
}

// WriteMeta 写数据集的伴生元信息。
func WriteMeta(datasetPath string, meta *BuildMeta) error {
	return writeJSON(MetaPath(datasetPath), meta)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func renderSummaryMD(s *Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Evaluation run %s\n\n", s.RunID)
	fmt.Fprintf(&sb, "- created: %s\n- dataset: %s\n- cases: %d\n- seed: %d\n\n",
		s.CreatedAt.Format(time.RFC3339), s.DatasetPath, s.Cases, s.Seed)

	sb.WriteString("| metric | mean | p50 | p95 | min | max |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	writeDistRow(&sb, "savings ratio", s.SavingsRatio)
	writeDistRow(&sb, "baseline recall", s.BaselineRecall)
	writeDistRow(&sb, "candidate recall", s.CandidateRecall)
	writeDistRow(&sb, "recall delta", s.RecallDelta)

	fmt.Fprintf(&sb, "\nrecall delta 95%% CI: [%.4f, %.4f] (%d iterations)\n",
		s.RecallDeltaCI.Lower95, s.RecallDeltaCI.Upper95, s.RecallDeltaCI.Iterations)
	fmt.Fprintf(&sb, "layer adequacy rate: %s\n", formatRate(s.LayerAdequacyRate))
	fmt.Fprintf(&sb, "information loss rate: %s\n", formatRate(s.InformationLossRate))
	return sb.String()
}

func writeDistRow(sb *strings.Builder, name string, d Distribution) {
	fmt.Fprintf(sb, "| %s | %.4f | %.4f | %.4f | %.4f | %.4f |\n", name, d.Mean, d.P50, d.P95, d.Min, d.Max)
}

func formatRate(r *float64) string {
	if r == nil {
		return "n/a (no applicable cases)"
	}
	return fmt.Sprintf("%.4f", *r)
}

// renderRegressionsMD 只列召回下降的用例，按跌幅排。
func renderRegressionsMD(results []CaseResult) string {
	var sb strings.Builder
	sb.WriteString("# Regressions\n\n")

	var found bool
	for _, r := range results {
		if !r.HasEvidence || r.RecallDelta >= 0 {
			continue
		}
		if !found {
			sb.WriteString("| case | mode | layer | baseline | candidate | delta |\n")
			sb.WriteString("|---|---|---|---|---|---|\n")
			found = true
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %.4f | %.4f | %.4f |\n",
			r.CaseID, r.QueryMode, r.ReachedLayer, r.BaselineRecall, r.CandidateRecall, r.RecallDelta)
	}
	if !found {
		sb.WriteString("No recall regressions in this run.\n")
	}
	return sb.String()
}

func writeCasesCSV(path string, results []CaseResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cases.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"case_id", "query_mode", "reached_layer",
		"baseline_tokens", "candidate_tokens", "savings_ratio",
		"has_evidence", "baseline_recall", "candidate_recall", "recall_delta",
		"layer_adequate", "information_loss",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.CaseID, string(r.QueryMode), string(r.ReachedLayer),
			strconv.Itoa(r.BaselineTokens), strconv.Itoa(r.CandidateTokens),
			strconv.FormatFloat(r.SavingsRatio, 'f', 4, 64),
			strconv.FormatBool(r.HasEvidence),
			strconv.FormatFloat(r.BaselineRecall, 'f', 4, 64),
			strconv.FormatFloat(r.CandidateRecall, 'f', 4, 64),
			strconv.FormatFloat(r.RecallDelta, 'f', 4, 64),
			formatNullableBool(r.LayerAdequate),
			formatNullableBool(r.InformationLoss),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func formatNullableBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
