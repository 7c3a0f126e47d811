// Package provider is the optional external review seat for the judge:
// an OpenAI 兼容的 chat 接口，对即将放行的开仓做最后一问。
// 契约是强的：答不上来、超时、答非所问，上层一律按"复核席不可用"
// 处理并 WAIT，绝不默认放行。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Provider 是复核席的最小接口。Ask 返回原始文本，解析交给
// ParseOpinion。
type Provider interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Opinion 是复核席的结构化回答。
type Opinion struct {
	Approve    bool
	Confidence float64
	Reason     string
}

// ParseOpinion 从回答文本里抠出 JSON 意见。模型爱加 markdown 围栏
// 和闲话，这里只认第一个 { 到最后一个 } 之间的内容。
func ParseOpinion(raw string) (*Opinion, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in advisor reply")
	}
	body := raw[start : end+1]
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("advisor reply is not valid JSON")
	}
	approve := gjson.Get(body, "approve")
	if !approve.Exists() || !approve.IsBool() {
		return nil, fmt.Errorf("advisor reply missing boolean approve field")
	}
	return &Opinion{
		Approve:    approve.Bool(),
		Confidence: gjson.Get(body, "confidence").Float(),
		Reason:     strings.TrimSpace(gjson.Get(body, "reason").String()),
	}, nil
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTP 通过 OpenAI 兼容的 /v1/chat/completions 提问。
type HTTP struct {
	cfg        Config
	httpClient *http.Client
}

func NewHTTP(cfg Config) (*HTTP, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("advisor base url cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid advisor base url: %w", err)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("advisor model cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg.Timeout = timeout
	return &HTTP{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}, nil
}

func (h *HTTP) Ask(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model": h.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(h.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("advisor returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	content := gjson.GetBytes(body, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("advisor returned empty reply")
	}
	return content, nil
}
