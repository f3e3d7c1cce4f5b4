package advisor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/questbot/engine/pkg/config"
	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/usage"
)

const (
	modeNormal   = "normal"
	modeDegraded = "degraded"
)

// Manager routes advisor consults between the primary (Anthropic) and
// fallback (OpenAI) providers: a rate-limited primary switches the route to
// the fallback with a hold window; once the hold expires, the next consult
// probes the primary and switches back on success.
type Manager struct {
	mu sync.Mutex

	primary  provider
	fallback provider
	usage    *usage.Store

	mode        string
	holdUntil   time.Time
	holdMinutes int
	lastSwitch  string
}

// NewManager builds the advisor from config. Returns nil (advisor
// disabled) when not enabled or no primary key is configured.
func NewManager(cfg config.AdvisorConfig, usageStore *usage.Store) *Manager {
	if !cfg.Enabled || cfg.AnthropicAPIKey == "" {
		return nil
	}
	m := &Manager{
		primary:     newAnthropicProvider(cfg.AnthropicAPIKey, cfg.PrimaryModel),
		usage:       usageStore,
		mode:        modeNormal,
		holdMinutes: maxInt(cfg.HoldMinutes, 1),
	}
	if cfg.OpenAIAPIKey != "" {
		m.fallback = newOpenAIProvider(cfg.OpenAIAPIKey, cfg.FallbackModel)
	}
	return m
}

// Consult encodes frame, routes the call, and parses the advised actions.
func (m *Manager) Consult(ctx context.Context, frame image.Image, situation string) (Advice, error) {
	framePNG, err := encodeFrame(frame)
	if err != nil {
		return Advice{}, fmt.Errorf("encoding frame for advisor: %w", err)
	}

	p := m.route()
	correlationID := uuid.NewString()

	reply, tokens, err := p.Consult(ctx, framePNG, systemPrompt, situation)
	m.record(p, correlationID, tokens, err)
	if err != nil {
		m.onError(p, err)
		// One immediate retry on the other provider if a switch happened.
		if next := m.route(); next != p {
			reply, tokens, err = next.Consult(ctx, framePNG, systemPrompt, situation)
			m.record(next, correlationID, tokens, err)
			if err != nil {
				return Advice{}, err
			}
			p = next
		} else {
			return Advice{}, err
		}
	}
	m.onSuccess(p)

	advice, err := parseAdvice(reply)
	if err != nil {
		return Advice{}, err
	}
	logger.InfoCF("advisor", "consulted", map[string]interface{}{
		"provider": p.Name(), "model": p.Model(),
		"actions": len(advice.Actions), "correlation_id": correlationID,
	})
	return advice, nil
}

// route picks the provider for the next consult. A degraded route probes
// the primary once the hold window has expired.
func (m *Manager) route() provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == modeDegraded && m.fallback != nil {
		if time.Now().Before(m.holdUntil) {
			return m.fallback
		}
		// Hold expired: next call probes the primary.
	}
	return m.primary
}

func (m *Manager) onError(p provider, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p != m.primary || m.fallback == nil {
		return
	}
	if isRateLimited(err) {
		m.mode = modeDegraded
		m.holdUntil = time.Now().Add(time.Duration(m.holdMinutes) * time.Minute)
		m.lastSwitch = "rate_limited"
		logger.WarnCF("advisor", "primary rate limited, switching to fallback", map[string]interface{}{
			"hold_until": m.holdUntil.Format(time.RFC3339),
		})
	}
}

func (m *Manager) onSuccess(p provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p == m.primary && m.mode == modeDegraded {
		m.mode = modeNormal
		m.lastSwitch = "primary_recovered"
		logger.InfoC("advisor", "primary healthy again, switched back")
	}
}

func (m *Manager) record(p provider, correlationID string, tokens tokenUsage, err error) {
	if m.usage == nil {
		return
	}
	reason := "consult"
	if err != nil {
		reason = "consult_error"
	}
	_ = m.usage.Append(usage.Record{
		CorrelationID:    correlationID,
		Provider:         p.Name(),
		Model:            p.Model(),
		PromptTokens:     tokens.Prompt,
		CompletionTokens: tokens.Completion,
		UsageKnown:       tokens.Prompt > 0 || tokens.Completion > 0,
		Reason:           reason,
	})
}

// encodeFrame downscales the frame 50% and PNG-encodes it, the same
// payload-shrinking idiom the capture substrate applies to screenshots.
func encodeFrame(frame image.Image) ([]byte, error) {
	b := frame.Bounds()
	scaled := ximaging.Scale(frame, b.Dx()/2, b.Dy()/2)
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
