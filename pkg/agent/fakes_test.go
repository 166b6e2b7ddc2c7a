package agent

import (
	"context"
	"fmt"
	"sync"
)

type scriptedProvider struct {
	name      string
	mu        sync.Mutex
	responses []*LLMResponse
	fallback  *LLMResponse
	err       error
	requests  []LLMRequest
}

func (s *scriptedProvider) Provider() string {
	if s.name == "" {
		return "openai"
	}
	return s.name
}

func (s *scriptedProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		if s.fallback != nil {
			return s.fallback, nil
		}
		return &LLMResponse{Content: "done"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedProvider) lastRequest() LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type staticFactory map[string]LLMProvider

func (f staticFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	p, ok := f[profile.ID]
	if !ok {
		return nil, fmt.Errorf("no provider for %s", profile.ID)
	}
	return p, nil
}

type fakeWallet map[string]string

func (w fakeWallet) Address(network string) (string, bool) {
	a, ok := w[network]
	return a, ok
}
