package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Report formats accepted by ExportReport.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

const (
	reportTimelineRows = 10
	reportEvidenceRows = 5
	reportTimeLayout   = "2006-01-02T15:04:05"
)

// ExportReport renders the provenance report of tagName, including the
// extraction events that proposed it. A tag without history yields a
// report with zeroed statistics.
func (t *Tracer) ExportReport(ctx context.Context, userID, tagName, format string) (string, error) {
	if format != FormatJSON && format != FormatMarkdown {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	info, err := t.TraceInfo(ctx, userID, tagName)
	if err != nil {
		return "", err
	}
	return RenderReport(info, format)
}

// RenderReport renders info as JSON or Markdown.
func RenderReport(info TraceInfo, format string) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatMarkdown:
		return renderMarkdown(info), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func renderMarkdown(info TraceInfo) string {
	s := info.Statistics
	created := "N/A"
	if s.CreationTime != nil {
		created = s.CreationTime.Format(reportTimeLayout)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# 标签溯源报告：%s\n\n", info.TagName)
	b.WriteString("## 基本信息\n")
	fmt.Fprintf(&b, "- **当前置信度**: %s\n", percent(s.CurrentConfidence))
	fmt.Fprintf(&b, "- **创建时间**: %s\n", created)
	fmt.Fprintf(&b, "- **总触发次数**: %d\n", s.TotalTriggers)
	fmt.Fprintf(&b, "- **正向触发**: %d\n", s.PositiveTriggers)
	fmt.Fprintf(&b, "- **负向触发**: %d\n", s.NegativeTriggers)
	fmt.Fprintf(&b, "- **证据数量**: %d\n", s.EvidenceCount)
	fmt.Fprintf(&b, "- **证据总权重**: %.2f\n", s.TotalEvidenceWeight)
	b.WriteString("\n## 置信度变化趋势\n")

	if len(info.Timeline) > 0 {
		b.WriteString("\n| 时间 | 置信度 | 变化 | 动作 |\n|------|--------|------|------|\n")
		// most recent rows first
		for i, n := len(info.Timeline)-1, 0; i >= 0 && n < reportTimelineRows; i, n = i-1, n+1 {
			p := info.Timeline[i]
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				p.Timestamp.Format(reportTimeLayout), percent(p.Confidence), signedPercent(p.ConfidenceDelta), p.Action)
		}
	}

	if len(info.EvidenceChain) > 0 {
		b.WriteString("\n## 主要支持证据\n\n")
		for i, e := range topEvidence(info.EvidenceChain) {
			fmt.Fprintf(&b, "### 证据 %d\n", i+1)
			fmt.Fprintf(&b, "- **权重**: %.2f\n", e.Weight)
			fmt.Fprintf(&b, "- **贡献度**: %s\n", signedPercent(e.ConfidenceContribution))
			fmt.Fprintf(&b, "- **时间**: %s\n", e.Timestamp.Format(reportTimeLayout))
			fmt.Fprintf(&b, "- **内容**: %s\n\n", e.Text)
		}
	}

	if len(info.Extractions) > 0 {
		b.WriteString("\n## 提取记录\n\n| 时间 | 维度 | 置信度 |\n|------|------|--------|\n")
		for i, n := len(info.Extractions)-1, 0; i >= 0 && n < reportTimelineRows; i, n = i-1, n+1 {
			e := info.Extractions[i]
			fmt.Fprintf(&b, "| %s | %s | %s |\n", e.Timestamp.Format(reportTimeLayout), e.Dimension, percent(e.Confidence))
		}
	}
	return b.String()
}

func topEvidence(chain []tag.EvidenceItem) []tag.EvidenceItem {
	if len(chain) > reportEvidenceRows {
		return chain[:reportEvidenceRows]
	}
	return chain
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func signedPercent(v float64) string {
	return fmt.Sprintf("%+.1f%%", v*100)
}
