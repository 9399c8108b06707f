// Package indexmgr provisions the ingest pipeline and the index template the
// event indices are created from.
package indexmgr

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/homehawk/internal/config"
)

// IngestedAtField is stamped by the ingest pipeline on every document.
const IngestedAtField = "ingested_at"

// Store is the subset of the document store the manager needs.
type Store interface {
	PutPipeline(ctx context.Context, name string, body any) error
	PutIndexTemplate(ctx context.Context, name string, body any) error
}

type IndexManager struct {
	store  Store
	config config.OpenSearchConfig
}

func NewIndexManager(store Store, cfg config.OpenSearchConfig) *IndexManager {
	return &IndexManager{
		store:  store,
		config: cfg,
	}
}

// EnsurePipeline creates or replaces the ingest pipeline.
func (m *IndexManager) EnsurePipeline(ctx context.Context) error {
	if err := m.store.PutPipeline(ctx, m.config.Pipeline, m.PipelineBody()); err != nil {
		return fmt.Errorf("failed to create ingest pipeline: %w", err)
	}
	return nil
}

// EnsureTemplate creates or replaces the index template.
func (m *IndexManager) EnsureTemplate(ctx context.Context) error {
	if err := m.store.PutIndexTemplate(ctx, m.TemplateName(), m.TemplateBody()); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	return nil
}

// TemplateName is the name the index template is stored under.
func (m *IndexManager) TemplateName() string {
	return m.config.IndexPrefix + "-template"
}

// IndexPattern matches every daily event index.
func (m *IndexManager) IndexPattern() string {
	return m.config.IndexPrefix + "-*"
}

// PipelineBody stamps the ingestion time on each document.
func (m *IndexManager) PipelineBody() map[string]interface{} {
	return map[string]interface{}{
		"description": "Stamps the ingestion time on smart home events",
		"processors": []map[string]interface{}{
			{
				"set": map[string]interface{}{
					"field": IngestedAtField,
					"value": "{{_ingest.timestamp}}",
				},
			},
		},
	}
}

// TemplateBody is the composable template applied to IndexPattern.
func (m *IndexManager) TemplateBody() map[string]interface{} {
	settings := map[string]interface{}{
		"number_of_shards":   m.config.ShardCount,
		"number_of_replicas": m.config.ReplicaCount,
		"default_pipeline":   m.config.Pipeline,
	}
	if m.config.RefreshInterval != "" {
		settings["refresh_interval"] = m.config.RefreshInterval
	}

	return map[string]interface{}{
		"index_patterns": []string{m.IndexPattern()},
		"template": map[string]interface{}{
			"settings": settings,
			"mappings": m.getEventMappings(),
		},
		"priority": 100,
	}
}

func (m *IndexManager) getEventMappings() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}

	return map[string]interface{}{
		"dynamic": true,
		"properties": map[string]interface{}{
			"timestamp": map[string]interface{}{
				"type": "date",
			},
			IngestedAtField: map[string]interface{}{
				"type": "date",
			},
			"type":     keyword,
			"id":       keyword,
			"deviceId": keyword,
			"path":     keyword,
			"device": map[string]interface{}{
				"properties": map[string]interface{}{
					"name": keyword,
					"type": keyword,
				},
			},
			"room": map[string]interface{}{
				"properties": map[string]interface{}{
					"id":   keyword,
					"name": keyword,
				},
			},
			"metric": map[string]interface{}{
				"properties": map[string]interface{}{
					"name": keyword,
					"value": map[string]interface{}{
						"type": "double",
					},
				},
			},
		},
	}
}
