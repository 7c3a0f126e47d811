package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 中文说明：
// 决策日志：每个信号周期把投票、环境判定和最终裁决写入独立文件，
// 与主日志分开，方便事后逐笔回查"为什么开了这单/为什么没开"。

var (
	decisionMu  sync.Mutex
	decisionLog *log.Logger
)

func SetDecisionWriter(w io.Writer) {
	decisionMu.Lock()
	defer decisionMu.Unlock()
	if w == nil {
		decisionLog = nil
		return
	}
	decisionLog = log.New(w, "", log.LstdFlags)
}

type decisionSection struct {
	Title string
	Body  string
}

func logDecision(symbol, traceID string, sections []decisionSection) {
	decisionMu.Lock()
	logger := decisionLog
	decisionMu.Unlock()
	if logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[DECISION]")
	if symbol != "" {
		b.WriteString("[")
		b.WriteString(symbol)
		b.WriteString("]")
	}
	if traceID != "" {
		b.WriteString("[")
		b.WriteString(traceID)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	logger.Print(b.String())
}

// LogDecisionTrace 记录一次完整的共识裁决（投票明细 + 环境 + 结论）。
func LogDecisionTrace(symbol, traceID, votes, regime, verdict string) {
	logDecision(symbol, traceID, []decisionSection{
		{Title: "VOTES", Body: votes},
		{Title: "REGIME", Body: regime},
		{Title: "VERDICT", Body: verdict},
	})
}

// LogDecisionError 记录裁决过程中的失败（数据源不可用、单数不足等）。
func LogDecisionError(symbol, traceID, errMsg string) {
	logDecision(symbol, traceID, []decisionSection{
		{Title: "ERROR", Body: errMsg},
	})
}
