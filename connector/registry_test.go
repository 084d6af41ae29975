package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomberg-lite/config"
)

func TestRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry(Options{Credentials: config.Credentials{FREDAPIKey: "k"}, Now: clock})

	for _, tag := range []string{SourceFRED, SourceECB, SourceWorldBank} {
		c, err := r.Metric(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, tag, c.Source())
	}
	for _, tag := range []string{SourceHNFirebase, SourceHNAlgolia} {
		c, err := r.Feed(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, tag, c.Source())
	}
}

func TestRegistry_UnknownSource(t *testing.T) {
	r := NewRegistry(Options{})
	var ce *ConfigError

	_, err := r.Metric("bloomberg")
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bloomberg", ce.Source)

	_, err = r.Feed("reddit")
	assert.ErrorAs(t, err, &ce)

	// Feed tags are not metric tags.
	_, err = r.Metric(SourceHNAlgolia)
	assert.ErrorAs(t, err, &ce)
}

func TestRegistry_MissingCredentialIsCached(t *testing.T) {
	r := NewRegistry(Options{})
	var ce *ConfigError

	_, err := r.Metric(SourceFRED)
	require.ErrorAs(t, err, &ce)

	_, err2 := r.Metric(SourceFRED)
	assert.Same(t, err, err2)
}

type stubMetric struct{ source string }

func (s stubMetric) Source() string { return s.source }
func (s stubMetric) Fetch(context.Context, config.Metric) (*Payload, error) {
	return &Payload{Source: s.source}, nil
}
func (s stubMetric) Normalize(config.Metric, *Payload) (MetricResult, error) {
	return MetricResult{}, nil
}

func TestRegistry_LazyConstruction(t *testing.T) {
	r := NewRegistry(Options{})
	builds := 0
	r.RegisterMetric("stub", func(Options) (MetricConnector, error) {
		builds++
		return stubMetric{source: "stub"}, nil
	})
	assert.Equal(t, 0, builds)

	for i := 0; i < 3; i++ {
		c, err := r.Metric("stub")
		require.NoError(t, err)
		assert.Equal(t, "stub", c.Source())
	}
	assert.Equal(t, 1, builds)
}

func TestRegistry_BuilderErrorBecomesConfigError(t *testing.T) {
	r := NewRegistry(Options{})
	r.RegisterMetric("broken", func(Options) (MetricConnector, error) {
		return nil, errors.New("no driver")
	})

	_, err := r.Metric("broken")
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, "no driver")
}
