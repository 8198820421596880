// Package webhook is the HTTP boundary to the WhatsApp Cloud API: the
// subscribe/verify handshake, payload signature validation, and mapping of
// provider notifications onto inbound events. Events are acknowledged
// (read receipt, best-effort) and submitted to the dispatcher before the
// handler returns, so the provider always gets its 200 fast regardless of
// how long downstream processing takes.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/nanoclaw/pkg/events"
	"github.com/tinyland-inc/nanoclaw/pkg/logger"
)

const component = "webhook"

const maxPayloadBytes = 1 << 20

// Submitter is the dispatcher's admission entry point.
type Submitter interface {
	Submit(ctx context.Context, ev events.Inbound)
}

// Acker sends provider read receipts.
type Acker interface {
	MarkRead(ctx context.Context, messageID string) error
}

type Config struct {
	Host        string
	Port        int
	Path        string
	VerifyToken string
	AppSecret   string
	AllowFrom   []string
}

type Server struct {
	cfg        Config
	submitter  Submitter
	acker      Acker
	httpServer *http.Server
}

func NewServer(cfg Config, submitter Submitter, acker Acker) *Server {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	s := &Server{cfg: cfg, submitter: submitter, acker: acker}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.Path, s.handleVerify)
	mux.HandleFunc("POST "+s.cfg.Path, s.handleNotification)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	return mux
}

func (s *Server) Start() error {
	logger.InfoCF(component, "Webhook server listening", map[string]any{
		"addr": s.httpServer.Addr,
		"path": s.cfg.Path,
	})
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) {
	s.httpServer.Shutdown(ctx) //nolint:errcheck
}

// handleVerify implements the Meta subscription handshake: echo
// hub.challenge when the verify token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.cfg.VerifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge"))) //nolint:errcheck
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if s.cfg.AppSecret != "" {
		if !validSignature(body, r.Header.Get("X-Hub-Signature-256"), s.cfg.AppSecret) {
			logger.WarnC(component, "Rejected payload with bad signature")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		logger.WarnCF(component, "Unparseable payload", map[string]any{"error": err.Error()})
		// 200 anyway: the provider retries non-2xx responses and the
		// payload will not get better.
		w.WriteHeader(http.StatusOK)
		return
	}

	requestID := uuid.New().String()
	for _, msg := range p.messages() {
		if msg.From == "" {
			logger.WarnC(component, "Message without sender, skipping")
			continue
		}
		if !s.allowed(msg.From) {
			continue
		}

		// Read receipt before admission, best-effort.
		if msg.ID != "" {
			if err := s.acker.MarkRead(context.Background(), msg.ID); err != nil {
				logger.WarnCF(component, "Could not mark message as read", map[string]any{
					"message_id": msg.ID,
					"error":      err.Error(),
				})
			}
		}

		ev := msg.toEvent()
		logger.InfoCF(component, "Inbound message", map[string]any{
			"request_id": requestID,
			"message_id": ev.MessageID,
			"from":       ev.From,
			"type":       string(ev.Type),
		})
		// Detached context: the worker outlives this request.
		s.submitter.Submit(context.Background(), ev)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) allowed(sender string) bool {
	if len(s.cfg.AllowFrom) == 0 {
		return true
	}
	for _, a := range s.cfg.AllowFrom {
		if sender == strings.TrimSpace(a) {
			return true
		}
	}
	logger.DebugCF(component, "Sender not in allow list", map[string]any{"from": sender})
	return false
}

// validSignature checks the X-Hub-Signature-256 header (sha256= prefixed
// hex HMAC of the raw body) in constant time.
func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
