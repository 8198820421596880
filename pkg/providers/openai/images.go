// Package openaiprovider implements the generative-image backend on the
// OpenAI Images API: text-to-image generation and multi-image edits.
package openaiprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

const generatedMIME = "image/png"

type Backend struct {
	client *openai.Client
	model  string
}

func NewBackend(apiKey, apiBase, model string) *Backend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	client := openai.NewClient(opts...)
	return &Backend{client: &client, model: model}
}

func NewBackendWithClient(client *openai.Client, model string) *Backend {
	return &Backend{client: client, model: model}
}

func (b *Backend) Generate(ctx context.Context, prompt string) (*session.GeneratedImage, error) {
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(b.model),
	}
	// gpt-image models always answer base64; dall-e needs to be asked.
	if strings.HasPrefix(b.model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := b.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	return decodeImage(resp, prompt)
}

func (b *Backend) Edit(ctx context.Context, prompt string, inputs []session.Image) (*session.GeneratedImage, error) {
	if len(inputs) == 0 {
		return nil, errors.New("edit requires at least one input image")
	}

	files := make([]io.Reader, 0, len(inputs))
	for i, in := range inputs {
		mime := in.MIME
		if mime == "" {
			mime = generatedMIME
		}
		files = append(files, openai.File(bytes.NewReader(in.Data), fmt.Sprintf("input-%d%s", i, extensionFor(mime)), mime))
	}

	resp, err := b.client.Images.Edit(ctx, openai.ImageEditParams{
		Image:  openai.ImageEditParamsImageUnion{OfFileArray: files},
		Prompt: prompt,
		Model:  openai.ImageModel(b.model),
	})
	if err != nil {
		return nil, fmt.Errorf("image edit: %w", err)
	}
	return decodeImage(resp, prompt)
}

func decodeImage(resp *openai.ImagesResponse, prompt string) (*session.GeneratedImage, error) {
	if resp == nil || len(resp.Data) == 0 {
		return nil, errors.New("image response carried no data")
	}
	if resp.Data[0].B64JSON == "" {
		return nil, errors.New("image response missing base64 payload")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return &session.GeneratedImage{
		Prompt: prompt,
		Data:   data,
		MIME:   generatedMIME,
	}, nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
