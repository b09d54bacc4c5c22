package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/signing"
)

const userAgent = "MediaRelay/1.0"

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

// DefaultUploadTimeout bounds a single media upload.
const DefaultUploadTimeout = 10 * time.Minute

// Gateway posts signed JSON to the chat gateway.
type Gateway struct {
	baseURL string
	secret  string
	client  *http.Client
	upload  *http.Client
	log     zerolog.Logger
}

type GatewayOption func(*Gateway)

// WithUploadTimeout sets the client deadline for SendMedia, which carries
// whole files and needs far longer than the JSON calls.
func WithUploadTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.upload.Timeout = d
		}
	}
}

func NewGateway(baseURL, secret string, timeout time.Duration, log zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client: &http.Client{
			Timeout: timeout,
		},
		upload: &http.Client{
			Timeout: DefaultUploadTimeout,
		},
		log: log.With().Str("component", "gateway").Logger(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type refResponse struct {
	MessageRef string `json:"message_ref"`
}

func (g *Gateway) SendText(ctx context.Context, chatID int64, text string) (string, error) {
	var out refResponse
	err := g.postJSON(ctx, "/v1/messages/send", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &out)
	return out.MessageRef, err
}

func (g *Gateway) EditText(ctx context.Context, chatID int64, messageRef, text string) error {
	return g.postJSON(ctx, "/v1/messages/edit", map[string]any{
		"chat_id":     chatID,
		"message_ref": messageRef,
		"text":        text,
	}, nil)
}

func (g *Gateway) DeleteMessage(ctx context.Context, chatID int64, messageRef string) error {
	return g.postJSON(ctx, "/v1/messages/delete", map[string]any{
		"chat_id":     chatID,
		"message_ref": messageRef,
	}, nil)
}

func (g *Gateway) SendReport(ctx context.Context, operatorID int64, text string, action Action) (string, error) {
	var out refResponse
	err := g.postJSON(ctx, "/v1/reports/send", map[string]any{
		"operator_id": operatorID,
		"text":        text,
		"actions":     []Action{action},
	}, &out)
	return out.MessageRef, err
}

func (g *Gateway) EditReport(ctx context.Context, operatorID int64, messageRef, text string) error {
	return g.postJSON(ctx, "/v1/reports/edit", map[string]any{
		"operator_id": operatorID,
		"message_ref": messageRef,
		"text":        text,
	}, nil)
}

// SendMedia streams the file as multipart/form-data. When a secret is set the
// form is rendered twice: once into the signer, once onto the wire.
func (g *Gateway) SendMedia(ctx context.Context, chatID int64, path, caption string) error {
	if g.baseURL == "" {
		return ErrNotConfigured
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open media: %w", err)
	}

	mw := multipart.NewWriter(io.Discard)
	boundary := mw.Boundary()

	var signer *signing.Signer
	if g.secret != "" {
		signer = signing.NewSigner(g.secret)
		if err := writeMediaForm(signer, boundary, chatID, path, caption); err != nil {
			return err
		}
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		pw.CloseWithError(writeMediaForm(pw, boundary, chatID, path, caption))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/media/send", pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if signer != nil {
		signer.Apply(req)
	}
	return g.send(g.upload, req, nil)
}

func writeMediaForm(w io.Writer, boundary string, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read media: %w", err)
	}
	return mw.Close()
}

func (g *Gateway) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return g.do(ctx, path, "application/json", body, out)
}

func (g *Gateway) do(ctx context.Context, path, contentType string, body []byte, out any) error {
	if g.baseURL == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if g.secret != "" {
		signing.SignRequest(req, g.secret, body)
	}
	return g.send(g.client, req, out)
}

func (g *Gateway) send(client *http.Client, req *http.Request, out any) error {
	start := time.Now()
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	g.log.Debug().
		Str("path", req.URL.Path).
		Int("status_code", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("gateway call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
