package weex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Sign 计算请求签名：base64(HMAC-SHA256(secret, ts + method + path + body))。
// path 必须带查询串，body 为空时不参与拼接。
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
