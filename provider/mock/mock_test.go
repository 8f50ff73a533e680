package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clawforge/clawforge/provider"
)

func TestMockProviderSuccess(t *testing.T) {
	p := New("fast", "hello", WithTokens(42))
	resp, err := p.Complete(context.Background(), provider.Request{Model: "test-model"})
	if err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}
	if resp.Content != "hello" || resp.TokensUsed != 42 || resp.Model != "test-model" {
		t.Errorf("Complete() = %+v", resp)
	}
}

func TestMockProviderError(t *testing.T) {
	wantErr := errors.New("boom")
	p := New("broken", "", WithError(wantErr))
	_, err := p.Complete(context.Background(), provider.Request{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Complete error = %v, want %v", err, wantErr)
	}
}

func TestMockProviderDelayRespectsCancellation(t *testing.T) {
	p := New("slow", "never", WithDelay(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, provider.Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Complete error = %v, want context.DeadlineExceeded", err)
	}
}
