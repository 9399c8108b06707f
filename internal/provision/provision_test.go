package provision

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/homehawk/internal/dashboards"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/savedobjects"
)

type fakeIndices struct {
	pipelineFailures int
	templateErr      error
	pipelineCalls    int
	templateCalls    int
}

func (f *fakeIndices) EnsurePipeline(ctx context.Context) error {
	f.pipelineCalls++
	if f.pipelineCalls <= f.pipelineFailures {
		return errors.New("cluster not ready")
	}
	return nil
}

func (f *fakeIndices) EnsureTemplate(ctx context.Context) error {
	f.templateCalls++
	return f.templateErr
}

type fakeDashboards struct {
	payloads [][]byte
	err      error
	result   *dashboards.ImportResult
}

func (f *fakeDashboards) Import(ctx context.Context, ndjson []byte, overwrite bool) (*dashboards.ImportResult, error) {
	f.payloads = append(f.payloads, ndjson)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &dashboards.ImportResult{Success: true, SuccessCount: 2}, nil
}

const template = `{"type":"index-pattern","id":"ip","attributes":{"title":"x-*","name":"x"},"references":[]}
{"type":"dashboard","id":"home","attributes":{"title":"Home"},"references":[{"id":"ip","type":"index-pattern","name":"p"}]}
{"exportedCount":2,"missingRefCount":0,"missingReferences":[]}
`

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(template), 0o644))
	return path
}

func testConfig(templateFile string) Config {
	return Config{
		Prefix:          "dev",
		TemplateFile:    templateFile,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
	}
}

func TestRun_AllSteps(t *testing.T) {
	indices := &fakeIndices{}
	dash := &fakeDashboards{}
	p := New(testConfig(writeTemplate(t)), indices, dash, logging.Discard())

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	for _, s := range res.Steps {
		assert.Empty(t, s.Error, s.Name)
		assert.False(t, s.Skipped, s.Name)
	}

	require.Len(t, dash.payloads, 1)
	graph, err := savedobjects.Decode(strings.NewReader(string(dash.payloads[0])))
	require.NoError(t, err)
	require.Len(t, graph.Objects, 2)
	assert.Equal(t, "dev-ip", graph.Objects[0].ID)
	assert.Equal(t, "dev-*", graph.Objects[0].StringAttribute("title"))
	assert.Equal(t, "dev", graph.Objects[1].StringAttribute("title"))
	assert.Equal(t, "dev-ip", graph.Objects[1].References[0].ID)
	assert.NotNil(t, graph.Meta)
}

func TestRun_WarnsOnDanglingReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"dashboard","id":"home","attributes":{"title":"Home"},"references":[{"id":"gone","type":"visualization","name":"panel_0"}]}
`), 0o644))

	var logs bytes.Buffer
	dash := &fakeDashboards{}
	p := New(testConfig(path), &fakeIndices{}, dash, slog.New(slog.NewTextHandler(&logs, nil)))

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, dash.payloads, 1)
	assert.Contains(t, logs.String(), "dashboard template references objects it does not contain")
	assert.Contains(t, logs.String(), "visualization/dev-gone")
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	indices := &fakeIndices{pipelineFailures: 2}
	p := New(testConfig(""), indices, nil, logging.Discard())

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	step, ok := res.Step(StepPipeline)
	require.True(t, ok)
	assert.Equal(t, 3, step.Attempts)
	assert.Equal(t, 3, indices.pipelineCalls)
}

func TestRun_PipelineFailureIsFatal(t *testing.T) {
	indices := &fakeIndices{pipelineFailures: 100}
	p := New(testConfig(""), indices, nil, logging.Discard())

	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, indices.pipelineCalls, "one attempt plus three retries")
	assert.Zero(t, indices.templateCalls)
	assert.Len(t, res.Steps, 1)
}

func TestRun_TemplateFailureIsFatal(t *testing.T) {
	indices := &fakeIndices{templateErr: errors.New("mapper exception")}
	dash := &fakeDashboards{}
	p := New(testConfig(writeTemplate(t)), indices, dash, logging.Discard())

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StepTemplate)
	assert.Empty(t, dash.payloads)
}

func TestRun_DashboardFailureIsNotFatal(t *testing.T) {
	dash := &fakeDashboards{err: errors.New("connection refused")}
	p := New(testConfig(writeTemplate(t)), &fakeIndices{}, dash, logging.Discard())

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	step, ok := res.Step(StepDashboards)
	require.True(t, ok)
	assert.Contains(t, step.Error, "connection refused")
	assert.Equal(t, 4, step.Attempts)
}

func TestRun_ObjectErrorsAreNotRetried(t *testing.T) {
	dash := &fakeDashboards{result: &dashboards.ImportResult{
		Errors: []dashboards.ImportError{{Type: "visualization", ID: "v"}},
	}}
	p := New(testConfig(writeTemplate(t)), &fakeIndices{}, dash, logging.Discard())

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	step, _ := res.Step(StepDashboards)
	assert.Equal(t, 1, step.Attempts)
	assert.Contains(t, step.Error, "visualization/v")
}

func TestRun_SkipsDashboards(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		p := New(testConfig(writeTemplate(t)), &fakeIndices{}, nil, logging.Discard())
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		step, _ := res.Step(StepDashboards)
		assert.True(t, step.Skipped)
	})

	t.Run("template missing", func(t *testing.T) {
		dash := &fakeDashboards{}
		p := New(testConfig(filepath.Join(t.TempDir(), "missing.ndjson")), &fakeIndices{}, dash, logging.Discard())
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		step, _ := res.Step(StepDashboards)
		assert.True(t, step.Skipped)
		assert.Empty(t, dash.payloads)
	})
}

func TestRun_MalformedTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{nope\n"), 0o644))

	p := New(testConfig(path), &fakeIndices{}, &fakeDashboards{}, logging.Discard())
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	step, _ := res.Step(StepDashboards)
	assert.NotEmpty(t, step.Error)
}
