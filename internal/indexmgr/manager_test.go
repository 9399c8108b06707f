package indexmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/homehawk/internal/config"
)

type recordingStore struct {
	pipelines map[string]any
	templates map[string]any
	err       error
}

func (s *recordingStore) PutPipeline(ctx context.Context, name string, body any) error {
	if s.err != nil {
		return s.err
	}
	s.pipelines[name] = body
	return nil
}

func (s *recordingStore) PutIndexTemplate(ctx context.Context, name string, body any) error {
	if s.err != nil {
		return s.err
	}
	s.templates[name] = body
	return nil
}

func newStore() *recordingStore {
	return &recordingStore{pipelines: map[string]any{}, templates: map[string]any{}}
}

func testConfig() config.OpenSearchConfig {
	return config.OpenSearchConfig{
		IndexPrefix:     "smarthome",
		Pipeline:        "smarthome-ingest",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
	}
}

func TestNames(t *testing.T) {
	mgr := NewIndexManager(newStore(), testConfig())

	assert.Equal(t, "smarthome-template", mgr.TemplateName())
	assert.Equal(t, "smarthome-*", mgr.IndexPattern())
}

func TestEnsurePipeline(t *testing.T) {
	store := newStore()
	mgr := NewIndexManager(store, testConfig())

	require.NoError(t, mgr.EnsurePipeline(context.Background()))
	require.Contains(t, store.pipelines, "smarthome-ingest")

	body := store.pipelines["smarthome-ingest"].(map[string]interface{})
	processors := body["processors"].([]map[string]interface{})
	require.Len(t, processors, 1)
	set := processors[0]["set"].(map[string]interface{})
	assert.Equal(t, IngestedAtField, set["field"])
	assert.Equal(t, "{{_ingest.timestamp}}", set["value"])
}

func TestEnsureTemplate(t *testing.T) {
	store := newStore()
	mgr := NewIndexManager(store, testConfig())

	require.NoError(t, mgr.EnsureTemplate(context.Background()))
	require.Contains(t, store.templates, "smarthome-template")

	body := store.templates["smarthome-template"].(map[string]interface{})
	assert.Equal(t, []string{"smarthome-*"}, body["index_patterns"])

	tmpl := body["template"].(map[string]interface{})
	settings := tmpl["settings"].(map[string]interface{})
	assert.Equal(t, "smarthome-ingest", settings["default_pipeline"])
	assert.Equal(t, "5s", settings["refresh_interval"])

	props := tmpl["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	for _, field := range []string{"timestamp", IngestedAtField, "type", "device", "room", "metric"} {
		assert.Contains(t, props, field)
	}
	assert.Equal(t, "date", props["timestamp"].(map[string]interface{})["type"])
	metric := props["metric"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.Equal(t, "double", metric["value"].(map[string]interface{})["type"])
}

func TestEnsure_PropagatesErrors(t *testing.T) {
	store := newStore()
	store.err = errors.New("boom")
	mgr := NewIndexManager(store, testConfig())

	err := mgr.EnsurePipeline(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)

	err = mgr.EnsureTemplate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
}
