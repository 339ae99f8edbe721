package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Telegram is the reference Messenger implementation, speaking the Bot API
// over plain HTTP. Only the handful of methods the pipeline needs are bound.
type Telegram struct {
	token      string
	apiBase    string
	fileBase   string
	scratchDir string
	httpc      *http.Client
}

func NewTelegram(token, scratchDir string) *Telegram {
	return &Telegram{
		token:      token,
		apiBase:    "https://api.telegram.org/bot" + token,
		fileBase:   "https://api.telegram.org/file/bot" + token,
		scratchDir: scratchDir,
		httpc:      &http.Client{Timeout: 90 * time.Second},
	}
}

type tgUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgMedia struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MIMEType string `json:"mime_type"`
	FileName string `json:"file_name"`
}

type tgMessage struct {
	MessageID int64    `json:"message_id"`
	From      *tgUser  `json:"from"`
	Chat      tgChat   `json:"chat"`
	Text      string   `json:"text"`
	Voice     *tgMedia `json:"voice"`
	Audio     *tgMedia `json:"audio"`
	VideoNote *tgMedia `json:"video_note"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// IncomingMedia is a media message ready for the pipeline.
type IncomingMedia struct {
	Chat      ChatRef
	MessageID int64
	UserID    int64
	Username  string
	Media     MediaRef
}

// CallbackQuery is a button activation ready for the followup resolver.
type CallbackQuery struct {
	ID          string
	Data        string
	Chat        ChatRef
	MessageID   int64
	MessageText string
	UserID      int64
}

// Command is a slash command with its argument remainder.
type Command struct {
	Chat     ChatRef
	UserID   int64
	Username string
	Name     string
	Args     string
}

// Handler receives decoded updates from the poll loop. Implementations run
// their own goroutines if they need to outlive the callback.
type Handler interface {
	HandleMedia(ctx context.Context, m IncomingMedia)
	HandleCallback(ctx context.Context, cb CallbackQuery)
	HandleCommand(ctx context.Context, cmd Command)
}

func (t *Telegram) call(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/"+method, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var wrapped tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !wrapped.OK {
		return fmt.Errorf("%s: telegram: %s", method, wrapped.Description)
	}
	if out != nil {
		if err := json.Unmarshal(wrapped.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func controlsMarkup(controls []Control) (string, error) {
	if len(controls) == 0 {
		return "", nil
	}

	type button struct {
		Text         string `json:"text"`
		CallbackData string `json:"callback_data"`
	}
	rows := make([][]button, 0, len(controls))
	for _, c := range controls {
		rows = append(rows, []button{{Text: c.Label, CallbackData: c.Data}})
	}

	markup, err := json.Marshal(map[string]any{"inline_keyboard": rows})
	if err != nil {
		return "", fmt.Errorf("marshal keyboard: %w", err)
	}
	return string(markup), nil
}

func (t *Telegram) SendText(ctx context.Context, chat ChatRef, text string, replyTo int64, controls []Control) (MessageRef, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(int64(chat), 10))
	params.Set("text", text)
	if replyTo != 0 {
		params.Set("reply_to_message_id", strconv.FormatInt(replyTo, 10))
	}
	markup, err := controlsMarkup(controls)
	if err != nil {
		return MessageRef{}, err
	}
	if markup != "" {
		params.Set("reply_markup", markup)
	}

	var sent tgMessage
	if err := t.call(ctx, "sendMessage", params, &sent); err != nil {
		return MessageRef{}, err
	}
	return MessageRef{Chat: chat, ID: sent.MessageID}, nil
}

func (t *Telegram) EditText(ctx context.Context, msg MessageRef, text string, controls []Control) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(int64(msg.Chat), 10))
	params.Set("message_id", strconv.FormatInt(msg.ID, 10))
	params.Set("text", text)
	markup, err := controlsMarkup(controls)
	if err != nil {
		return err
	}
	if markup != "" {
		params.Set("reply_markup", markup)
	}
	return t.call(ctx, "editMessageText", params, nil)
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	params := url.Values{}
	params.Set("callback_query_id", callbackID)
	if text != "" {
		params.Set("text", text)
	}
	if alert {
		params.Set("show_alert", "true")
	}
	return t.call(ctx, "answerCallbackQuery", params, nil)
}

func (t *Telegram) SendTyping(ctx context.Context, chat ChatRef) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(int64(chat), 10))
	params.Set("action", "typing")
	return t.call(ctx, "sendChatAction", params, nil)
}

func (t *Telegram) SendFile(ctx context.Context, chat ChatRef, data []byte, filename, caption string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("chat_id", strconv.FormatInt(int64(chat), 10)); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("create document part: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write document part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/sendDocument", &body)
	if err != nil {
		return fmt.Errorf("build sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sendDocument: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var wrapped tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return fmt.Errorf("decode sendDocument response: %w", err)
	}
	if !wrapped.OK {
		return fmt.Errorf("sendDocument: telegram: %s", wrapped.Description)
	}
	return nil
}

// FetchMedia resolves the platform file path and downloads the bytes to a
// scratch file owned by the caller.
func (t *Telegram) FetchMedia(ctx context.Context, ref MediaRef) (string, error) {
	params := url.Values{}
	params.Set("file_id", ref.FileID)

	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := t.call(ctx, "getFile", params, &file); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.fileBase+"/"+file.FilePath, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download media: http %d", resp.StatusCode)
	}

	if err := os.MkdirAll(t.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".ogg"
	}
	tmp, err := os.CreateTemp(t.scratchDir, "media-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return tmp.Name(), nil
}

// Poll runs the long-poll update loop until ctx is cancelled, dispatching
// each update to the handler. Transport errors are returned to the caller
// after a short backoff has failed repeatedly; transient errors just retry.
func (t *Telegram) Poll(ctx context.Context, handler Handler, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		params := url.Values{}
		params.Set("timeout", "50")
		params.Set("allowed_updates", `["message","callback_query"]`)
		if offset != 0 {
			params.Set("offset", strconv.FormatInt(offset, 10))
		}

		var updates []tgUpdate
		if err := t.call(ctx, "getUpdates", params, &updates); err != nil {
			if ctx.Err() != nil {
				return
			}
			logf("getUpdates error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			t.dispatch(ctx, u, handler)
		}
	}
}

func (t *Telegram) dispatch(ctx context.Context, u tgUpdate, handler Handler) {
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		cb := u.CallbackQuery
		handler.HandleCallback(ctx, CallbackQuery{
			ID:          cb.ID,
			Data:        cb.Data,
			Chat:        ChatRef(cb.Message.Chat.ID),
			MessageID:   cb.Message.MessageID,
			MessageText: cb.Message.Text,
			UserID:      cb.From.ID,
		})
		return
	}

	msg := u.Message
	if msg == nil || msg.From == nil {
		return
	}

	if len(msg.Text) > 1 && msg.Text[0] == '/' {
		name, args := splitCommand(msg.Text[1:])
		handler.HandleCommand(ctx, Command{
			Chat:     ChatRef(msg.Chat.ID),
			UserID:   msg.From.ID,
			Username: msg.From.Username,
			Name:     name,
			Args:     args,
		})
		return
	}

	var media *MediaRef
	switch {
	case msg.Voice != nil:
		media = &MediaRef{FileID: msg.Voice.FileID, Kind: MediaVoice, MIMEType: "audio/ogg"}
	case msg.VideoNote != nil:
		media = &MediaRef{FileID: msg.VideoNote.FileID, Kind: MediaVideoNote, MIMEType: "video/mp4"}
	case msg.Audio != nil:
		media = &MediaRef{
			FileID:   msg.Audio.FileID,
			Kind:     MediaAudio,
			MIMEType: msg.Audio.MIMEType,
			FileName: msg.Audio.FileName,
		}
	default:
		return
	}

	handler.HandleMedia(ctx, IncomingMedia{
		Chat:      ChatRef(msg.Chat.ID),
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.Username,
		Media:     *media,
	})
}

func splitCommand(s string) (name, args string) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:]
		}
		if s[i] == '@' {
			rest := s[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == ' ' {
					return s[:i], rest[j+1:]
				}
			}
			return s[:i], ""
		}
	}
	return s, ""
}
