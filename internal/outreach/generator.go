// Package outreach turns a LinkedIn profile into a short connection note.
//
// A Generator asks an external text provider first and falls back to a
// randomized template when the provider is missing, fails, times out or
// returns nothing usable. Callers always get a message back.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultBatchLimit = 4
)

var (
	errNoProvider    = errors.New("no text provider configured")
	errEmptyResponse = errors.New("provider returned no usable text")
)

// Provider generates free text from a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Generator produces outreach messages.
type Generator struct {
	provider Provider
	rng      Rand
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the template random source. The source is wrapped so it can be
// shared by concurrent requests.
func WithRand(r Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.rng = &lockedRand{src: r}
		}
	}
}

// WithTimeout bounds each provider call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a Generator. A nil provider means every message comes
// from the template fallback.
func NewGenerator(p Provider, opts ...Option) *Generator {
	g := &Generator{
		provider: p,
		rng:      globalRand{},
		timeout:  defaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasProvider reports whether a text provider is configured.
func (g *Generator) HasProvider() bool {
	return g.provider != nil
}

// Generate returns a message for p. It never fails: any provider problem is
// logged and answered with a template message instead.
func (g *Generator) Generate(ctx context.Context, p Profile) string {
	msg, err := g.generate(ctx, p)
	if err == nil {
		return msg
	}

	if errors.Is(err, errNoProvider) {
		g.logger.Debug("using template fallback", zap.Error(err))
	} else {
		g.logger.Warn("provider generation failed, using template fallback", zap.Error(err))
	}
	return RenderFallback(p, g.rng)
}

func (g *Generator) generate(ctx context.Context, p Profile) (msg string, err error) {
	if g.provider == nil {
		return "", errNoProvider
	}

	defer func() {
		if r := recover(); r != nil {
			msg, err = "", fmt.Errorf("generating message: %v", r)
		}
	}()

	category := Classify(p)
	prompt := BuildPrompt(p, category)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.provider.Generate(callCtx, prompt)
	if err != nil {
		return "", err
	}

	msg = Sanitize(text)
	if msg == "" {
		return "", errEmptyResponse
	}

	g.logger.Debug("generated message",
		zap.Stringer("category", category),
		zap.Duration("duration", time.Since(start)),
		zap.Int("length", len(msg)),
	)
	return msg, nil
}

// GenerateBatch generates one message per profile with at most limit provider
// calls in flight. Results keep the input order.
func (g *Generator) GenerateBatch(ctx context.Context, profiles []Profile, limit int) []string {
	if len(profiles) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	out := make([]string, len(profiles))
	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, p := range profiles {
		eg.Go(func() error {
			out[i] = g.Generate(ctx, p)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}
