package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage_RenderSectionsInFixedOrder(t *testing.T) {
	m := Message{
		Icon:     "📈",
		Headline: "开仓 BTCUSDT 做多",
		Position: []string{"入场价 50000", "杠杆 10x (T1)"},
		Guards:   []string{"止损 48750"},
		Verdict:  []string{"置信度 0.75 / 环境 BULLISH"},
	}
	out := m.RenderMarkdown()

	assert.Contains(t, out, "📈 开仓 BTCUSDT 做多")
	posIdx := strings.Index(out, "仓位")
	guardIdx := strings.Index(out, "保护")
	verdictIdx := strings.Index(out, "裁决")
	assert.True(t, posIdx >= 0 && posIdx < guardIdx && guardIdx < verdictIdx)
	// 没填的段落不出现
	assert.NotContains(t, out, "结果")
}

func TestMessage_CloseOnlyHasOutcome(t *testing.T) {
	m := Message{
		Icon:      "🔴",
		Headline:  "平仓 ETHUSDT 做空",
		Outcome:   []string{"原因 stop loss", "盈亏 -12.50 USDT"},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	out := m.RenderMarkdown()

	assert.Contains(t, out, "结果")
	assert.Contains(t, out, "原因 stop loss")
	assert.NotContains(t, out, "仓位")
	assert.Contains(t, out, "时间：2026-03-01 12:00:00 UTC")
}

func TestMessage_SanitizesFencesAndBlankLines(t *testing.T) {
	m := Message{
		Headline: "开仓",
		Verdict:  []string{"```escape```", "  ", ""},
	}
	out := m.RenderMarkdown()
	assert.Contains(t, out, "'''escape'''")
	assert.NotContains(t, out, "- \n")
}

func TestMessage_TruncatesOverlongBody(t *testing.T) {
	m := Message{
		Headline: "开仓",
		Verdict:  []string{strings.Repeat("x", 5000)},
	}
	out := m.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}
