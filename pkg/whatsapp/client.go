// Package whatsapp implements the WhatsApp Cloud API collaborator: outbound
// delivery (text and image messages, media upload, read receipts) and media
// download. All sends are best-effort and never retried; callers log
// failures and move on.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://graph.facebook.com/v21.0"

// ErrMediaExpired means the provider no longer serves the media: its
// download URL is short-lived and has either expired or was never valid.
var ErrMediaExpired = errors.New("media expired or not found")

// ErrMediaMissingURL means the media metadata response carried no download
// URL.
var ErrMediaMissingURL = errors.New("media metadata missing url")

type Config struct {
	Token         string
	PhoneNumberID string
	APIBase       string
	MediaTimeout  time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// MarkRead sends a read receipt for a provider message id.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.postMessages(ctx, body)
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	}
	return c.postMessages(ctx, body)
}

// SendImage delivers a previously uploaded image by media id.
func (c *Client) SendImage(ctx context.Context, to, mediaID string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             map[string]any{"id": mediaID},
	}
	return c.postMessages(ctx, body)
}

// UploadMedia uploads raw bytes to the media endpoint and returns the
// provider media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mime string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := w.WriteField("type", mime); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}

	part, err := w.CreatePart(fileHeader("file", "media"+extensionFor(mime), mime))
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}

	url := fmt.Sprintf("%s/%s/media", c.cfg.APIBase, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("media upload", resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("upload response missing media id")
	}
	return out.ID, nil
}

// Download fetches media bytes by id. The Cloud API hands out short-lived
// download URLs, so the metadata lookup and the fetch happen back to back
// under one deadline. Expired or unknown media maps to ErrMediaExpired.
func (c *Client) Download(ctx context.Context, mediaID string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MediaTimeout)
	defer cancel()

	metaURL := fmt.Sprintf("%s/%s", c.cfg.APIBase, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, "", fmt.Errorf("media %s: %w", mediaID, ErrMediaExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", apiError("media metadata", resp)
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, "", fmt.Errorf("decoding media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("media %s: %w", mediaID, ErrMediaMissingURL)
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", err
	}
	dlReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	dlResp, err := c.httpClient.Do(dlReq)
	if err != nil {
		return nil, "", fmt.Errorf("media download: %w", err)
	}
	defer dlResp.Body.Close()

	if dlResp.StatusCode == http.StatusNotFound || dlResp.StatusCode == http.StatusGone {
		return nil, "", fmt.Errorf("media %s: %w", mediaID, ErrMediaExpired)
	}
	if dlResp.StatusCode != http.StatusOK {
		return nil, "", apiError("media download", dlResp)
	}

	data, err := io.ReadAll(dlResp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading media body: %w", err)
	}

	mime := meta.MimeType
	if ct := dlResp.Header.Get("Content-Type"); mime == "" && ct != "" {
		mime = ct
	}
	return data, mime, nil
}

func (c *Client) postMessages(ctx context.Context, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", c.cfg.APIBase, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError("whatsapp send", resp)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	return nil
}

// apiError decodes the Graph API error envelope for readable logs.
func apiError(op string, resp *http.Response) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s: status %d: %s (code %d)", op, resp.StatusCode, envelope.Error.Message, envelope.Error.Code)
	}
	return fmt.Errorf("%s: status %d", op, resp.StatusCode)
}

func fileHeader(field, filename, mime string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename)},
		"Content-Type":        {mime},
	}
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
