package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfill/internal/config"
	"docfill/internal/docwriter"
	"docfill/internal/extractor"
	"docfill/internal/pipeline"
	"docfill/internal/testutil"
	"docfill/internal/tokens"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	release chan struct{} // when set, generation waits on it
	err     error
}

func (p *stubProvider) Complete(ctx context.Context, prompt, model string, _ float32) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return "Claim: 42\nStatus: open", nil
}

func testServer(t *testing.T, provider *stubProvider) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.APIKey = "test-key-123456"
	cfg.LLM.FastModel = "fast"
	cfg.LLM.CapableModel = "capable"

	srv := newServer(*cfg)
	srv.open = func(c config.Config) (*pipeline.Pipeline, error) {
		if c.LLM.APIKey == "" {
			return nil, pipeline.ErrNoCredential
		}
		p := pipeline.New(c.PipelineConfig(), provider)
		p.Counter = tokens.CounterFunc(tokens.Estimate)
		return p, nil
	}
	return srv
}

type upload struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func validUploads(t *testing.T) []upload {
	t.Helper()
	tmpl, err := docwriter.Write("Claim:\nStatus:")
	require.NoError(t, err)
	return []upload{
		{"template", "template.docx", tmpl},
		{"reports", "a.pdf", testutil.PDF("Claim 42 is open")},
		{"reports", "b.pdf", testutil.PDF("Adjuster visited on Monday")},
	}
}

func postGenerate(t *testing.T, h http.Handler, accept string, files ...upload) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", ct)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerate_ReturnsDocument(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	rec := postGenerate(t, srv.routes(), "", validUploads(t)...)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, docwriter.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Filled_Report_Final.docx"`)
	assert.Equal(t, "false", rec.Header().Get("X-Summarized"))
	assert.Equal(t, "0", rec.Header().Get("X-Warnings"))
	assert.NotEqual(t, "0", rec.Header().Get("X-Total-Tokens"))

	text, err := extractor.ExtractDOCX(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Claim: 42\nStatus: open", text)

	status := srv.status.snapshot()
	assert.Equal(t, pipeline.StageDone, status.Phase)
	assert.Equal(t, 2, status.FilesTotal)
	assert.Equal(t, 2, status.FilesDone)
}

func TestGenerate_JSON(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	files := validUploads(t)
	files = append(files, upload{"reports", "broken.pdf", testutil.Garbage()})
	rec := postGenerate(t, srv.routes(), "application/json", files...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Claim: 42\nStatus: open", resp.Text)
	assert.Equal(t, docwriter.DefaultFilename, resp.Filename)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "broken.pdf")

	doc, err := base64.StdEncoding.DecodeString(resp.Document)
	require.NoError(t, err)
	text, err := extractor.ExtractDOCX(doc)
	require.NoError(t, err)
	assert.Equal(t, resp.Text, text)
}

func TestGenerate_BadRequests(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	h := srv.routes()
	tmpl, err := docwriter.Write("Claim:")
	require.NoError(t, err)
	pdf := testutil.PDF("text")

	cases := map[string][]upload{
		"no template":    {{"reports", "a.pdf", pdf}},
		"no reports":     {{"template", "t.docx", tmpl}},
		"two templates":  {{"template", "t.docx", tmpl}, {"template", "u.docx", tmpl}, {"reports", "a.pdf", pdf}},
		"wrong template": {{"template", "t.pdf", pdf}, {"reports", "a.pdf", pdf}},
		"wrong report":   {{"template", "t.docx", tmpl}, {"reports", "a.txt", []byte("x")}},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postGenerate(t, h, "", files...)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/generate", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	t.Run("broken template", func(t *testing.T) {
		provider := &stubProvider{}
		srv := testServer(t, provider)
		files := validUploads(t)
		files[0].data = testutil.Garbage()

		rec := postGenerate(t, srv.routes(), "", files...)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Zero(t, provider.calls)
		assert.Equal(t, pipeline.StageFailed, srv.status.snapshot().Phase)
	})

	t.Run("no credential", func(t *testing.T) {
		srv := testServer(t, &stubProvider{})
		srv.cfg.LLM.APIKey = ""
		rec := postGenerate(t, srv.routes(), "", validUploads(t)...)
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	})

	t.Run("model failure", func(t *testing.T) {
		srv := testServer(t, &stubProvider{err: errors.New("503 from upstream")})
		rec := postGenerate(t, srv.routes(), "", validUploads(t)...)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, srv.status.snapshot().Error, "503 from upstream")
	})
}

func TestGenerate_OneRunAtATime(t *testing.T) {
	provider := &stubProvider{release: make(chan struct{})}
	srv := testServer(t, provider)
	h := srv.routes()

	first := make(chan *httptest.ResponseRecorder)
	go func() { first <- postGenerate(t, h, "", validUploads(t)...) }()

	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.calls == 1
	}, 5*time.Second, 10*time.Millisecond)

	rec := postGenerate(t, h, "", validUploads(t)...)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(provider.release)
	assert.Equal(t, http.StatusOK, (<-first).Code)
}

func TestStatus_Idle(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, pipeline.StageIdle, status.Phase)
}

func TestSettings_GetAndUpdate(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	h := srv.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "test...3456", got["api_key"])
	assert.Equal(t, "groq", got["provider"])

	body := `{"api_key":"test...3456","token_limit":3000,"chunk_overlap":0}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg := srv.settings()
	assert.Equal(t, "groq", cfg.LLM.Provider)
	assert.Equal(t, "test-key-123456", cfg.LLM.APIKey, "masked key must not overwrite the real one")
	assert.Equal(t, 3000, cfg.Pipeline.TokenLimit)
	assert.Equal(t, 0, cfg.Pipeline.ChunkOverlap)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(`{"chunk_size":-5}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 4000, srv.settings().Pipeline.ChunkSize)
}

func TestSettings_ProviderSwitchDropsOldKey(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	h := srv.routes()

	post := func(body string) {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	// the UI echoes the masked key of the old provider
	post(`{"provider":"openai","api_key":"test...3456"}`)
	cfg := srv.settings()
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.FastModel)
	assert.Empty(t, cfg.LLM.APIKey, "groq key must not be sent to openai")

	rec := postGenerate(t, h, "", validUploads(t)...)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code, rec.Body.String())

	post(`{"provider":"anthropic","api_key":"sk-ant-new-key"}`)
	cfg = srv.settings()
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant-new-key", cfg.LLM.APIKey)

	// same provider, different case: the key stays
	post(`{"provider":"Anthropic"}`)
	assert.Equal(t, "sk-ant-new-key", srv.settings().LLM.APIKey)
}

func TestProgress_StreamsEvents(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/progress", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first progressMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)

	// the hub must have registered the subscriber before the run starts
	require.Eventually(t, func() bool {
		srv.hub.mu.Lock()
		defer srv.hub.mu.Unlock()
		return len(srv.hub.clients) == 1
	}, 5*time.Second, 10*time.Millisecond)

	go postGenerate(t, srv.routes(), "", validUploads(t)...)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type string         `json:"type"`
			Data pipeline.Event `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "event", msg.Type)
		if msg.Data.Stage == pipeline.StageDone {
			break
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, &stubProvider{})
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "gsk_...wxyz", maskKey("gsk_abcdefwxyz"))
}
