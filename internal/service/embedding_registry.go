package service

import (
	"fmt"

	"github.com/timmy/mmrag/internal/config"
	"github.com/timmy/mmrag/internal/logger"
)

// BackendRegistry builds the configured text and joint backends once at
// startup and owns their lifetime.
type BackendRegistry struct {
	text    TextBackend
	joint   JointBackend
	closers []func() error
}

// NewBackendRegistry validates both embedding configs and constructs their
// backends. The joint backend must be a remote CLIP provider.
func NewBackendRegistry(cfg *config.EmbeddingSettings) (*BackendRegistry, error) {
	opts := &JinaOptions{
		Timeout:        cfg.Timeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}
	r := &BackendRegistry{}

	textCfg := cfg.Text
	textCfg.ResolveEnvVars()
	if err := textCfg.ValidateWithAPIKey(); err != nil {
		return nil, err
	}
	switch textCfg.Provider {
	case config.ProviderJina:
		r.text = NewJinaTextBackend(&textCfg, opts)
	case config.ProviderFastEmbed:
		fe, err := NewFastEmbedBackend(&textCfg)
		if err != nil {
			return nil, err
		}
		r.text = fe
		r.closers = append(r.closers, fe.Close)
	default:
		return nil, fmt.Errorf("embedding %q: unknown provider %q", textCfg.Name, textCfg.Provider)
	}

	jointCfg := cfg.Joint
	jointCfg.ResolveEnvVars()
	if err := jointCfg.ValidateWithAPIKey(); err != nil {
		return nil, err
	}
	if jointCfg.Provider != config.ProviderJina {
		return nil, fmt.Errorf("embedding %q: provider %q has no image model", jointCfg.Name, jointCfg.Provider)
	}
	r.joint = NewJinaCLIPBackend(&jointCfg, opts)

	logger.Info("Registered embedding backends: text=%s/%s dim=%d, joint=%s/%s dim=%d",
		textCfg.Provider, r.text.Name(), r.text.Dimensions(),
		jointCfg.Provider, r.joint.Name(), r.joint.Dimensions())
	return r, nil
}

// Text returns the text backend.
func (r *BackendRegistry) Text() TextBackend { return r.text }

// Joint returns the joint text/image backend.
func (r *BackendRegistry) Joint() JointBackend { return r.joint }

// Close releases local model sessions.
func (r *BackendRegistry) Close() {
	for _, c := range r.closers {
		if err := c(); err != nil {
			logger.Warn("Error closing embedding backend: %v", err)
		}
	}
	r.closers = nil
}
