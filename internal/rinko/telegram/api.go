package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bdobrica/Rinko/common/redact"
)

const defaultBaseURL = "https://api.telegram.org"

// APIError is a Bot API call that came back with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// has reports whether the error description mentions fragment.
func (e *APIError) has(fragment string) bool {
	return strings.Contains(strings.ToLower(e.Description), fragment)
}

// descriptionHas reports whether err is an APIError mentioning any of the
// fragments.
func descriptionHas(err error, fragments ...string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, f := range fragments {
		if apiErr.has(f) {
			return true
		}
	}
	return false
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message,omitempty"`
	CallbackQuery *callbackQuery `json:"callback_query,omitempty"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chatID `json:"chat"`
	From      *user  `json:"from,omitempty"`
	Text      string `json:"text"`
}

type chatID struct {
	ID int64 `json:"id"`
}

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    user     `json:"from"`
	Message *message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	MessageID   int64        `json:"message_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type deleteMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type chatActionRequest struct {
	ChatID string `json:"chat_id"`
	Action string `json:"action"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// call posts req to method and decodes the result into out, which may be
// nil.
func (b *Bot) call(ctx context.Context, method string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: encode: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: %s: %s", method, redact.Error(err, b.token))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		// The request URL carries the token; keep it out of the error.
		return fmt.Errorf("telegram: %s: %s", method, redact.Error(err, b.token))
	}
	defer resp.Body.Close()

	var res apiResponse
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: read body: %w", method, err)
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("telegram: %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body[:min(len(body), 512)])))
	}
	if !res.OK {
		return &APIError{Method: method, Code: res.ErrorCode, Description: res.Description}
	}
	if out != nil && len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("telegram: %s: decode result: %w", method, err)
		}
	}
	return nil
}
