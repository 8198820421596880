package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

type scriptedClassifier struct {
	classification Classification
	classifyErr    error
	extraction     PromptExtraction
	extractErr     error
	classifyCalls  int
	extractCalls   int
}

func (s *scriptedClassifier) ClassifyFeature(_ context.Context, _ []session.Message) (Classification, error) {
	s.classifyCalls++
	return s.classification, s.classifyErr
}

func (s *scriptedClassifier) ExtractPrompt(_ context.Context, _ []session.Message) (PromptExtraction, error) {
	s.extractCalls++
	return s.extraction, s.extractErr
}

type scriptedBackend struct {
	generated     *session.GeneratedImage
	generateErr   error
	generateCalls int
	editCalls     int
	editInputs    []session.Image
}

func (s *scriptedBackend) Generate(_ context.Context, prompt string) (*session.GeneratedImage, error) {
	s.generateCalls++
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	if s.generated != nil {
		return s.generated, nil
	}
	return &session.GeneratedImage{Prompt: prompt, Data: []byte("img"), MIME: "image/png"}, nil
}

func (s *scriptedBackend) Edit(_ context.Context, prompt string, inputs []session.Image) (*session.GeneratedImage, error) {
	s.editCalls++
	s.editInputs = inputs
	return &session.GeneratedImage{Prompt: prompt, Data: []byte("edited"), MIME: "image/png"}, nil
}

func lastMessage(t *testing.T, s *session.Session) session.Message {
	t.Helper()
	if len(s.Messages) == 0 {
		t.Fatal("transcript is empty")
	}
	return s.Messages[len(s.Messages)-1]
}

func TestFirstTurnGreets(t *testing.T) {
	g := NewGraph(&scriptedClassifier{}, &scriptedBackend{})
	s := &session.Session{CurrentNode: session.NodeTriage}
	s.Append(session.RoleHuman, "hi")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := lastMessage(t, out); got.Role != session.RoleAssistant || got.Content != greeting {
		t.Fatalf("last message = %+v, want greeting", got)
	}
	if out.Awaiting != session.AwaitingFeature {
		t.Fatalf("Awaiting = %q, want feature", out.Awaiting)
	}
	if out.CurrentNode != session.NodeTriage {
		t.Fatalf("CurrentNode = %s, want triage", out.CurrentNode)
	}
}

func TestTriageRoutesAndRunsFeatureSameTurn(t *testing.T) {
	cls := &scriptedClassifier{classification: Classification{Feature: FeatureTextToImage}}
	g := NewGraph(cls, &scriptedBackend{})
	s := &session.Session{CurrentNode: session.NodeTriage, Awaiting: session.AwaitingFeature}
	s.Append(session.RoleHuman, "I want text to image")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// Routed into the feature node and executed it within the same turn.
	if out.CurrentNode != session.NodeTextToImage {
		t.Fatalf("CurrentNode = %s, want text_to_image", out.CurrentNode)
	}
	if got := lastMessage(t, out); got.Content != askPrompt {
		t.Fatalf("last message = %q, want prompt question", got.Content)
	}
	if out.Awaiting != session.AwaitingPrompt {
		t.Fatalf("Awaiting = %q, want prompt", out.Awaiting)
	}
}

func TestTriageUnclearFeatureAsks(t *testing.T) {
	cls := &scriptedClassifier{classification: Classification{Reply: "Do you want to create or edit an image?"}}
	g := NewGraph(cls, &scriptedBackend{})
	s := &session.Session{CurrentNode: session.NodeTriage, Awaiting: session.AwaitingFeature}
	s.Append(session.RoleHuman, "ehh")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := lastMessage(t, out); got.Content != "Do you want to create or edit an image?" {
		t.Fatalf("last message = %q", got.Content)
	}
	if out.CurrentNode != session.NodeTriage {
		t.Fatalf("CurrentNode = %s, want to stay in triage", out.CurrentNode)
	}
}

func TestTextToImageGeneratesAndHandsBackToTriage(t *testing.T) {
	cls := &scriptedClassifier{extraction: PromptExtraction{Prompt: "a banana surfing"}}
	backend := &scriptedBackend{}
	g := NewGraph(cls, backend)
	s := &session.Session{CurrentNode: session.NodeTextToImage, Awaiting: session.AwaitingPrompt}
	s.Append(session.RoleHuman, "a banana surfing")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if backend.generateCalls != 1 {
		t.Fatalf("generate calls = %d, want 1", backend.generateCalls)
	}
	if out.GeneratedImage == nil || out.GeneratedImage.Prompt != "a banana surfing" {
		t.Fatalf("GeneratedImage = %+v", out.GeneratedImage)
	}
	if out.UserLastPrompt != "a banana surfing" {
		t.Fatalf("UserLastPrompt = %q", out.UserLastPrompt)
	}
	// Back was consumed: next turn belongs to triage with no pending wait.
	if out.Back {
		t.Fatal("Back should be consumed by the router")
	}
	if out.CurrentNode != session.NodeTriage || out.Awaiting != "" {
		t.Fatalf("post-turn state = %s/%q, want triage with no wait", out.CurrentNode, out.Awaiting)
	}
	if got := lastMessage(t, out); got.Content != imageReady {
		t.Fatalf("last message = %q", got.Content)
	}
}

func TestTextToImageWithoutPromptAsksAgain(t *testing.T) {
	cls := &scriptedClassifier{extraction: PromptExtraction{Reply: "What exactly should I draw?"}}
	backend := &scriptedBackend{}
	g := NewGraph(cls, backend)
	s := &session.Session{CurrentNode: session.NodeTextToImage, Awaiting: session.AwaitingPrompt}
	s.Append(session.RoleHuman, "something nice I guess")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if backend.generateCalls != 0 {
		t.Fatal("no image should be generated without a prompt")
	}
	if got := lastMessage(t, out); got.Content != "What exactly should I draw?" {
		t.Fatalf("last message = %q", got.Content)
	}
	if out.CurrentNode != session.NodeTextToImage {
		t.Fatalf("CurrentNode = %s, want to stay in text_to_image", out.CurrentNode)
	}
}

func TestImageToImageWithoutImagesAsksForOne(t *testing.T) {
	g := NewGraph(&scriptedClassifier{}, &scriptedBackend{})
	s := &session.Session{CurrentNode: session.NodeImageToImage}
	s.Append(session.RoleHuman, "edit my photo")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := lastMessage(t, out); got.Content != askForImage {
		t.Fatalf("last message = %q", got.Content)
	}
}

func TestImageToImageEditsAllUserImages(t *testing.T) {
	cls := &scriptedClassifier{extraction: PromptExtraction{Prompt: "combine them into a collage"}}
	backend := &scriptedBackend{}
	g := NewGraph(cls, backend)
	s := &session.Session{
		CurrentNode: session.NodeImageToImage,
		UserImages: []session.Image{
			{Data: []byte("one"), MIME: "image/png"},
			{Data: []byte("two"), MIME: "image/jpeg"},
		},
	}
	s.Append(session.RoleSystem, "User sent image #1 (image/png).")
	s.Append(session.RoleSystem, "User sent image #2 (image/jpeg).")
	s.Append(session.RoleHuman, "combine them into a collage")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if backend.editCalls != 1 {
		t.Fatalf("edit calls = %d, want 1", backend.editCalls)
	}
	if len(backend.editInputs) != 2 {
		t.Fatalf("edit inputs = %d, want both user images", len(backend.editInputs))
	}
	if out.GeneratedImage == nil || string(out.GeneratedImage.Data) != "edited" {
		t.Fatalf("GeneratedImage = %+v", out.GeneratedImage)
	}
	if out.CurrentNode != session.NodeTriage {
		t.Fatalf("CurrentNode = %s, want triage after Back", out.CurrentNode)
	}
	if got := lastMessage(t, out); got.Content != editReady {
		t.Fatalf("last message = %q", got.Content)
	}
}

func TestClassifierErrorPropagates(t *testing.T) {
	cls := &scriptedClassifier{classifyErr: errors.New("rate limited")}
	g := NewGraph(cls, &scriptedBackend{})
	s := &session.Session{CurrentNode: session.NodeTriage, Awaiting: session.AwaitingFeature}
	s.Append(session.RoleHuman, "make an image")

	if _, err := g.Invoke(context.Background(), s); err == nil {
		t.Fatal("expected the classifier error to propagate")
	}
}

func TestUnknownNodeResetsToTriage(t *testing.T) {
	g := NewGraph(&scriptedClassifier{}, &scriptedBackend{})
	s := &session.Session{CurrentNode: session.Node("bogus")}
	s.Append(session.RoleHuman, "hi")

	out, err := g.Invoke(context.Background(), s)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.CurrentNode != session.NodeTriage {
		t.Fatalf("CurrentNode = %s, want triage", out.CurrentNode)
	}
	if got := lastMessage(t, out); got.Content != greeting {
		t.Fatalf("last message = %q, want greeting", got.Content)
	}
}
