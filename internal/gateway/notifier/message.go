package notifier

import (
	"strings"
	"time"
)

const maxMessageLen = 3800

// 段落标题是固定的，和决策日志用同一套词汇。
const (
	sectionPosition = "仓位"
	sectionGuards   = "保护"
	sectionVerdict  = "裁决"
	sectionOutcome  = "结果"
)

// Message 是一条交易事件推送。字段按 orca 的领域切段：仓位事实、
// 保护线、裁决来历、平仓结果。空段不渲染，平仓消息只会有结果段，
// 开仓消息没有结果段。
type Message struct {
	Icon     string
	Headline string

	Position []string // 入场价、数量、杠杆
	Guards   []string // 止损、止盈线
	Verdict  []string // 置信度、环境、trace
	Outcome  []string // 平仓原因、盈亏、持仓时长

	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Telegram Markdown 文本，超长自动裁剪。
func (m Message) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Headline))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := m.renderSections(); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func (m Message) renderSections() string {
	type section struct {
		title string
		lines []string
	}
	secs := make([]section, 0, 4)
	for _, s := range []section{
		{sectionPosition, sanitizeLines(m.Position)},
		{sectionGuards, sanitizeLines(m.Guards)},
		{sectionVerdict, sanitizeLines(m.Verdict)},
		{sectionOutcome, sanitizeLines(m.Outcome)},
	} {
		if len(s.lines) > 0 {
			secs = append(secs, s)
		}
	}
	if len(secs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		b.WriteString(sec.title)
		b.WriteString("\n")
		for _, line := range sec.lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}
