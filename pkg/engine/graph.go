// Package engine implements the conversation state machine: a small node
// graph (triage, text-to-image, image-to-image) that turns accumulated
// session state into assistant replies and generated artifacts. The
// dispatcher invokes it at most once per drained batch.
package engine

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

// Features the triage node can route to.
const (
	FeatureTextToImage  = "text_to_image"
	FeatureImageToImage = "image_to_image"
)

// Classification is the triage node's structured output: either a
// recognized feature, or a clarifying reply to show the user.
type Classification struct {
	Feature string
	Reply   string
}

// PromptExtraction is the prompt-reader output: either the user's image
// prompt, or a reply asking them to provide or confirm one.
type PromptExtraction struct {
	Prompt string
	Reply  string
}

// Classifier is the natural-language intent backend.
type Classifier interface {
	ClassifyFeature(ctx context.Context, transcript []session.Message) (Classification, error)
	ExtractPrompt(ctx context.Context, transcript []session.Message) (PromptExtraction, error)
}

// ImageBackend is the generative-image collaborator.
type ImageBackend interface {
	Generate(ctx context.Context, prompt string) (*session.GeneratedImage, error)
	Edit(ctx context.Context, prompt string, inputs []session.Image) (*session.GeneratedImage, error)
}

const (
	greeting = "Hi! This bot is connected with nanobanana 🍌 Try these features:\n" +
		"- text to image\n" +
		"- image to image (send an image plus a prompt to edit it)"
	askFeature    = "Which feature would you like to use: text to image, or image to image?"
	askPrompt     = "What should I create? Describe the image you want 🎨"
	askEditPrompt = "How should I edit your image? ✏️"
	askForImage   = "Send me the image you want to edit first 🖼️"
	imageReady    = "Here is your image! 🍌 Ask for another one whenever you like."
	editReady     = "Here is your edited image! 🍌"
)

type Graph struct {
	classifier Classifier
	images     ImageBackend
}

func NewGraph(classifier Classifier, images ImageBackend) *Graph {
	return &Graph{classifier: classifier, images: images}
}

// Invoke runs one engine turn: the node owning the turn executes, triage
// may route into a feature node within the same turn, and a feature node
// that sets Back hands the next turn to triage.
func (g *Graph) Invoke(ctx context.Context, s *session.Session) (*session.Session, error) {
	if s.CurrentNode == "" {
		s.CurrentNode = session.NodeTriage
	}

	if s.CurrentNode == session.NodeTriage {
		if err := g.triage(ctx, s); err != nil {
			return nil, err
		}
		// triage may have selected a feature; give it the rest of the turn.
		if s.CurrentNode == session.NodeTriage {
			return s, nil
		}
	}

	if err := g.runFeature(ctx, s); err != nil {
		return nil, err
	}

	if s.Back {
		s.Back = false
		s.Awaiting = ""
		s.CurrentNode = session.NodeTriage
	}
	return s, nil
}

func (g *Graph) runFeature(ctx context.Context, s *session.Session) error {
	switch s.CurrentNode {
	case session.NodeTextToImage:
		return g.textToImage(ctx, s)
	case session.NodeImageToImage:
		return g.imageToImage(ctx, s)
	default:
		// Unknown node state: reset and re-greet rather than stall.
		s.CurrentNode = session.NodeTriage
		s.Awaiting = ""
		return g.triage(ctx, s)
	}
}

func (g *Graph) triage(ctx context.Context, s *session.Session) error {
	if s.Awaiting != session.AwaitingFeature {
		s.Append(session.RoleAssistant, greeting)
		s.Awaiting = session.AwaitingFeature
		return nil
	}

	cls, err := g.classifier.ClassifyFeature(ctx, s.Messages)
	if err != nil {
		return fmt.Errorf("classifying feature: %w", err)
	}

	switch cls.Feature {
	case FeatureTextToImage:
		s.CurrentNode = session.NodeTextToImage
		s.Awaiting = ""
	case FeatureImageToImage:
		s.CurrentNode = session.NodeImageToImage
		s.Awaiting = ""
	default:
		reply := cls.Reply
		if reply == "" {
			reply = askFeature
		}
		s.Append(session.RoleAssistant, reply)
	}
	return nil
}

func (g *Graph) textToImage(ctx context.Context, s *session.Session) error {
	if s.Awaiting != session.AwaitingPrompt {
		s.Append(session.RoleAssistant, askPrompt)
		s.Awaiting = session.AwaitingPrompt
		return nil
	}

	ex, err := g.classifier.ExtractPrompt(ctx, s.Messages)
	if err != nil {
		return fmt.Errorf("extracting prompt: %w", err)
	}
	if ex.Prompt == "" {
		reply := ex.Reply
		if reply == "" {
			reply = askPrompt
		}
		s.Append(session.RoleAssistant, reply)
		return nil
	}

	s.UserLastPrompt = ex.Prompt
	s.Awaiting = ""

	img, err := g.images.Generate(ctx, ex.Prompt)
	if err != nil {
		return fmt.Errorf("generating image: %w", err)
	}
	s.GeneratedImage = img
	s.Append(session.RoleAssistant, imageReady)
	s.Back = true
	return nil
}

func (g *Graph) imageToImage(ctx context.Context, s *session.Session) error {
	if len(s.UserImages) == 0 {
		s.Append(session.RoleAssistant, askForImage)
		s.Awaiting = ""
		return nil
	}

	ex, err := g.classifier.ExtractPrompt(ctx, s.Messages)
	if err != nil {
		return fmt.Errorf("extracting edit prompt: %w", err)
	}
	if ex.Prompt == "" {
		reply := ex.Reply
		if reply == "" {
			reply = askEditPrompt
		}
		s.Append(session.RoleAssistant, reply)
		s.Awaiting = session.AwaitingPrompt
		return nil
	}

	s.UserLastPrompt = ex.Prompt
	s.Awaiting = ""

	img, err := g.images.Edit(ctx, ex.Prompt, s.UserImages)
	if err != nil {
		return fmt.Errorf("editing image: %w", err)
	}
	s.GeneratedImage = img
	s.Append(session.RoleAssistant, editReady)
	s.Back = true
	return nil
}
