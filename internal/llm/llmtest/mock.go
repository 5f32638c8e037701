// Package llmtest provides scripted inference clients for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
)

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

type route struct {
	match   string
	replies []Reply
	sticky  Reply
	hasLast bool
}

// MockLLM answers prompts by substring route, then from ResponseQueue, then
// with Response. A route's last reply repeats once its queue drains.
type MockLLM struct {
	mu            sync.Mutex
	routes        []*route
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

// On scripts replies for prompts containing match. Earlier routes win.
func (m *MockLLM) On(match string, replies ...Reply) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, &route{match: match, replies: replies})
	return m
}

// OnText is On with successful replies.
func (m *MockLLM) OnText(match string, texts ...string) *MockLLM {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return m.On(match, replies...)
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)

	for _, r := range m.routes {
		if !strings.Contains(prompt, r.match) {
			continue
		}
		if len(r.replies) > 0 {
			r.sticky, r.hasLast = r.replies[0], true
			r.replies = r.replies[1:]
			return r.sticky.Text, r.sticky.Err
		}
		if r.hasLast {
			return r.sticky.Text, r.sticky.Err
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

// Count reports how many prompts contained match.
func (m *MockLLM) Count(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.Prompts {
		if strings.Contains(p, match) {
			n++
		}
	}
	return n
}

// MockEmbedder returns Vectors[text] when scripted, otherwise a deterministic
// bag-of-words vector so texts sharing words land near each other.
type MockEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Err     error
	Dims    int
	Calls   int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	return HashEmbedding(text, m.dims()), nil
}

func (m *MockEmbedder) dims() int {
	if m.Dims > 0 {
		return m.Dims
	}
	return 64
}

// HashEmbedding hashes each token into one of dims buckets.
func HashEmbedding(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, tok := range common.Tokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[int(h.Sum32())%dims]++
	}
	return v
}
