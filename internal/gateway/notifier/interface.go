package notifier

// TextNotifier 只约定"把一段文本送出去"。trader 推开平仓事件时
// 依赖这个接口，具体通道（Telegram）在组装层注入；为 nil 表示
// 不推送。
type TextNotifier interface {
	SendText(text string) error
}

// Noop 丢弃所有推送，本地跑和回放时用。
type Noop struct{}

func (Noop) SendText(string) error { return nil }
