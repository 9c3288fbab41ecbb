package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/ContentHub/internal/manager"
)

type fakeRunner struct {
	report  manager.Report
	err     error
	calls   int
	gotType string
}

func (r *fakeRunner) CollectAllSources(context.Context) (manager.Report, error) {
	r.calls++
	return r.report, r.err
}

func (r *fakeRunner) CollectSourcesByType(_ context.Context, t string) (manager.Report, error) {
	r.calls++
	r.gotType = t
	return r.report, r.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func sampleReport() manager.Report {
	return manager.Report{
		RunID:            "run-1",
		SourcesProcessed: 1,
		TotalArticles:    2,
		Errors:           []string{},
		SourceResults: []manager.SourceResult{
			{SourceName: "Hacker News", SourceType: "hackernews", Status: manager.StatusSuccess, ArticlesCollected: 2},
		},
	}
}

func TestCollectAllRequiresSecret(t *testing.T) {
	runner := &fakeRunner{report: sampleReport()}
	inv := NewInvoker(runner, fakePinger{}, "s3cret", nil)

	resp := inv.CollectAll(context.Background(), Request{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Forbidden"}, resp.Body)
	assert.Equal(t, 0, runner.calls)

	resp = inv.CollectAll(context.Background(), Request{Query: url.Values{"secret": {"wrong"}}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = inv.CollectAll(context.Background(), Request{Query: url.Values{"secret": {"s3cret"}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	headers := http.Header{}
	headers.Set("x-cron-secret", "s3cret")
	resp = inv.CollectAll(context.Background(), Request{Headers: headers})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, runner.calls)
}

func TestCollectAllWithoutSecretConfigured(t *testing.T) {
	inv := NewInvoker(&fakeRunner{report: sampleReport()}, fakePinger{}, "", nil)

	resp := inv.CollectAll(context.Background(), Request{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report, ok := resp.Body.(manager.Report)
	require.True(t, ok)
	assert.Equal(t, 2, report.TotalArticles)
}

func TestCollectAllDatabaseDown(t *testing.T) {
	runner := &fakeRunner{}
	inv := NewInvoker(runner, fakePinger{err: errors.New("dial tcp: refused")}, "", nil)

	resp := inv.CollectAll(context.Background(), Request{})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Database connection failed"}, resp.Body)
	assert.Equal(t, 0, runner.calls)
}

func TestCollectAllRunnerError(t *testing.T) {
	inv := NewInvoker(&fakeRunner{err: errors.New("list enabled sources: timeout")}, fakePinger{}, "", nil)

	resp := inv.CollectAll(context.Background(), Request{})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "list enabled sources: timeout"}, resp.Body)
}

func TestCollectTypeNotFound(t *testing.T) {
	runner := &fakeRunner{report: manager.Report{SourceResults: []manager.SourceResult{}}}
	inv := NewInvoker(runner, fakePinger{}, "", nil)

	resp := inv.CollectType(context.Background(), "readwise", Request{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "readwise", runner.gotType)
}

func TestCollectType(t *testing.T) {
	runner := &fakeRunner{report: sampleReport()}
	inv := NewInvoker(runner, fakePinger{}, "", nil)

	resp := inv.CollectType(context.Background(), "hackernews", Request{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hackernews", runner.gotType)
}

func TestHealth(t *testing.T) {
	resp := NewInvoker(&fakeRunner{}, fakePinger{}, "", nil).Health()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, ok := resp.Body.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "content-collector", body["service"])
	assert.NotEmpty(t, body["timestamp"])
}
