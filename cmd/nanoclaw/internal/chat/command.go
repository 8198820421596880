// Package chat is a console REPL that drives the full conversation
// pipeline without WhatsApp: messages are typed instead of delivered via
// webhook, and responses print to stdout instead of going out through the
// Cloud API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal"
	"github.com/tinyland-inc/nanoclaw/pkg/dispatch"
	"github.com/tinyland-inc/nanoclaw/pkg/engine"
	"github.com/tinyland-inc/nanoclaw/pkg/events"
	anthropicprovider "github.com/tinyland-inc/nanoclaw/pkg/providers/anthropic"
	openaiprovider "github.com/tinyland-inc/nanoclaw/pkg/providers/openai"
	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

const defaultPhone = "5491150128981"

func NewChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot from the console",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return chatCmd()
		},
	}
}

func chatCmd() error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.ValidateProviders(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	classifier := anthropicprovider.NewClassifier(
		cfg.Providers.Anthropic.APIKey,
		cfg.Providers.Anthropic.APIBase,
		cfg.Providers.Anthropic.Model,
	)
	images := openaiprovider.NewBackend(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.APIBase,
		cfg.Providers.OpenAI.Model,
	)
	graph := engine.NewGraph(classifier, images)

	store := session.NewStore()
	d := dispatch.New(store, &consoleDeliverer{}, noMedia{}, graph)

	rl, err := readline.New("Write something: ")
	if err != nil {
		return fmt.Errorf("error opening readline: %w", err)
	}
	defer rl.Close()

	ctx := context.Background()
	phone := defaultPhone

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "EOF":
			return nil
		case strings.HasPrefix(line, "-n "):
			num := strings.TrimSpace(strings.TrimPrefix(line, "-n "))
			if !digitsOnly(num) {
				fmt.Println("just digits are allowed for -n")
				continue
			}
			phone = num
			fmt.Printf("Now chatting as %s\n", phone)
			continue
		}

		ev := events.Inbound{
			MessageID: uuid.New().String(),
			From:      phone,
			Type:      events.TypeText,
			Text:      line,
		}
		// Synchronous: run the drain loop on this goroutine so the reply
		// prints before the next prompt.
		if d.Enqueue(phone, ev) {
			d.Process(ctx, phone)
		}
	}
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// consoleDeliverer prints outbound messages instead of calling the
// Cloud API. Generated images land in temp files.
type consoleDeliverer struct{}

func (consoleDeliverer) SendText(_ context.Context, to, text string) error {
	fmt.Printf("Message sent to: %s\nContent: %s\n", to, text)
	return nil
}

func (consoleDeliverer) UploadMedia(_ context.Context, data []byte, _ string) (string, error) {
	f, err := os.CreateTemp("", "nanoclaw-*.png")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (consoleDeliverer) SendImage(_ context.Context, to, mediaID string) error {
	fmt.Printf("Message sent to: %s\nContent: [image saved at %s]\n", to, mediaID)
	return nil
}

// noMedia rejects media fetches; the console only produces text events.
type noMedia struct{}

func (noMedia) Download(context.Context, string) ([]byte, string, error) {
	return nil, "", errors.New("media download not available in console chat")
}
