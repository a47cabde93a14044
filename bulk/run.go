package bulk

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pithecene-io/taskmanager/types"
)

// Filter selects batches by pattern. '%' matches any run of characters;
// every other character matches itself. An empty pattern matches anything.
type Filter struct {
	Workspace     string
	Configuration string
	Name          string
}

type matcher struct {
	workspace, configuration, name *regexp.Regexp
}

func (f Filter) compile() matcher {
	return matcher{
		workspace:     compilePattern(f.Workspace),
		configuration: compilePattern(f.Configuration),
		name:          compilePattern(f.Name),
	}
}

// compilePattern returns nil for the empty pattern.
func compilePattern(p string) *regexp.Regexp {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "%")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

func matchField(re *regexp.Regexp, v string) bool {
	return re == nil || re.MatchString(v)
}

func (m matcher) match(b *types.Batch) bool {
	return matchField(m.workspace, b.Workspace) &&
		matchField(m.configuration, b.Configuration) &&
		matchField(m.name, b.Name)
}

// Match returns the batches selected by f, sorted by name. Batches owned by
// a template configuration are never selected.
func (s *Service) Match(ctx context.Context, f Filter) ([]*types.Batch, error) {
	cfgs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	templates := make(map[string]bool)
	for _, cfg := range cfgs {
		if cfg.Template {
			templates[cfg.Name] = true
		}
	}

	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	m := f.compile()
	var out []*types.Batch
	for _, b := range batches {
		if templates[b.Configuration] || !m.match(b) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// RunBatches dispatches every batch selected by f. The i-th batch starts
// after start + i*between. It returns the number of dispatched batches.
func (s *Service) RunBatches(ctx context.Context, f Filter, start, between time.Duration) (int, error) {
	if s.dispatch == nil {
		return 0, errors.New("bulk run requires a dispatcher")
	}
	if start < 0 || between < 0 {
		return 0, errors.New("delays must not be negative")
	}
	batches, err := s.Match(ctx, f)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, b := range batches {
		delay := start + time.Duration(i)*between
		if err := s.dispatch.RunAfter(b.Name, delay); err != nil {
			return n, fmt.Errorf("dispatch batch %s: %w", b.Name, err)
		}
		n++
		s.logger.Debug("dispatched batch", map[string]any{
			"batch": b.Name,
			"delay": delay.String(),
		})
	}

	s.logger.Info("bulk run dispatched", map[string]any{
		"batches":       n,
		"start_delay":   start.String(),
		"between_delay": between.String(),
		"last_start":    MinimumDuration(n, start, between).String(),
	})
	return n, nil
}

// MinimumDuration is the time until the last of n batches starts.
func MinimumDuration(n int, start, between time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return start + time.Duration(n-1)*between
}
