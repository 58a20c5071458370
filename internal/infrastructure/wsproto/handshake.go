package wsproto

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrNotWebSocket 请求不是 websocket 升级
	ErrNotWebSocket = errors.New("wsproto: upgrade header is not websocket")
	// ErrMissingKey Sec-WebSocket-Key 缺失或出现多次
	ErrMissingKey = errors.New("wsproto: Sec-WebSocket-Key missing or repeated")
)

// ValidateUpgrade checks the upgrade request headers and returns the client key.
func ValidateUpgrade(h http.Header) (string, error) {
	if !strings.EqualFold(strings.TrimSpace(h.Get("Upgrade")), "websocket") {
		return "", ErrNotWebSocket
	}
	keys := h.Values("Sec-WebSocket-Key")
	if len(keys) != 1 {
		return "", ErrMissingKey
	}
	key := strings.TrimSpace(keys[0])
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// WriteSwitchingProtocols writes the raw 101 response on a hijacked connection.
func WriteSwitchingProtocols(w io.Writer, accept string) error {
	_, err := io.WriteString(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: "+accept+"\r\n\r\n")
	return err
}
