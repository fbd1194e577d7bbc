package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/insightlab/insight/internal/model"
)

// TransportError はサーバーから応答が得られなかったことを表す（DNS、接続、タイムアウトなど）。
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: no response: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError はサーバーが2xx以外のステータスを返したことを表す。
// Messageはサーバーのエラーペイロードのerrorフィールド、なければ生成したメッセージ。
type HTTPError struct {
	Method   string
	Endpoint string
	Status   int
	Message  string
	Code     string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Is は401をErrAuthRequired、404をErrNotFoundとして扱えるようにする。
func (e *HTTPError) Is(target error) bool {
	switch target {
	case model.ErrAuthRequired:
		return e.Status == http.StatusUnauthorized
	case model.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// errorPayload はサーバーのエラーレスポンスのうちクライアントが読むフィールド。
type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func newHTTPError(method, endpoint string, resp *http.Response) *HTTPError {
	herr := &HTTPError{
		Method:   method,
		Endpoint: endpoint,
		Status:   resp.StatusCode,
		Message:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return herr
	}
	var payload errorPayload
	if json.Unmarshal(raw, &payload) != nil {
		return herr
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		herr.Message = msg
	}
	herr.Code = payload.Code
	return herr
}
