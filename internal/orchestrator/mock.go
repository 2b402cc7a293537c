package orchestrator

import (
	"context"
	"fmt"

	"github.com/smartflow-crm/inference-gateway/internal/backend/chat"
	"github.com/smartflow-crm/inference-gateway/internal/backend/keyword"
)

// Mock backends for local development without real model hosts.
// Enabled through the mock_mode config flag; the rest of the chain
// (breakers, cache, sessions) runs unchanged.

// MockPrimary answers every prompt with a deterministic echo carrying
// a well-formed intent tag.
type MockPrimary struct{}

func (MockPrimary) Complete(_ context.Context, messages []chat.Message) (string, error) {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	return fmt.Sprintf("Talebinizi aldım: %q. En kısa sürede yardımcı oluyorum. [INTENT:general_inquiry CONFIDENCE:0.90]", last), nil
}

// MockSecondary returns a fixed low-confidence classification.
type MockSecondary struct{}

func (MockSecondary) Classify(_ context.Context, req *keyword.ClassifyRequest) (*keyword.ClassifyResponse, error) {
	return &keyword.ClassifyResponse{
		Intent:       "general_inquiry",
		Confidence:   0.5,
		ResponseText: "Talebinizi not ettim, bir temsilcimiz en kısa sürede dönüş yapacak.",
	}, nil
}

// MockReadiness reports the GPU host as always available.
type MockReadiness struct{}

func (MockReadiness) EnsureReady(context.Context) bool { return true }
