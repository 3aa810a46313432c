package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/auth"
	"github.com/stefando/scormhost/internal/fieldstore"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/scorm"
	"github.com/stefando/scormhost/internal/status"
	"github.com/stefando/scormhost/internal/storage"
	"github.com/stefando/scormhost/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPublisher struct {
	completions []float64
}

func (p *testPublisher) PublishGrade(context.Context, string, string, scorm.Grade) error { return nil }

func (p *testPublisher) PublishCompletion(_ context.Context, _, _ string, c float64) error {
	p.completions = append(p.completions, c)
	return nil
}

const testIssuer = "https://idp.example.com"

type testEnv struct {
	handler http.Handler
	fields  fieldstore.Store
	pub     *testPublisher
	key     *rsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, fieldstore.NewMemory(), nil)
}

// newTestEnvWith builds the full stack over fields. A nil verifier means
// tokens are checked against a key generated for the test.
func newTestEnvWith(t *testing.T, fields fieldstore.Store, verifier auth.Verifier) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	logger := logging.NewTestLogger()
	progress := upload.NewMemoryProgressStore(upload.DefaultProgressTTL)
	content := storage.NewLocalStore(fs, "/content", "https://cdn.example.com/static")
	migrator := upload.NewMigrator(fs, "/scratch", content, progress, "scorms", logger)
	uploads := upload.NewService(upload.NewReceiver(fs, "/staging"), migrator, progress, logger)

	var key *rsa.PrivateKey
	if verifier == nil {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		verifier = auth.NewOIDCVerifierWithKeys(testIssuer, "",
			&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}})
	}
	pub := &testPublisher{}

	return &testEnv{
		handler: NewRouter(Options{
			Uploads:        uploads,
			Status:         status.NewService(fields, pub, logger, 1),
			Content:        content,
			Verifier:       verifier,
			AllowAnonymous: true,
			Logger:         logger,
		}),
		fields: fields,
		pub:    pub,
		key:    key,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// token signs a learner token the env's verifier accepts.
func (e *testEnv) token(t *testing.T, learner string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, &auth.LearnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "sub-" + learner,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		LearnerID: learner,
	}).SignedString(e.key)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *testEnv) as(t *testing.T, learner string, req *http.Request) *http.Request {
	t.Helper()
	req.Header.Set("Authorization", e.token(t, learner))
	return req
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func (e *testEnv) uploadRequest(t *testing.T, key string, chunk []byte, contentRange string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("scorm_file", "course.zip")
	require.NoError(t, err)
	_, err = fw.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/blocks/"+key+"/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}
	return e.as(t, "staff", req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestChunkedUploadAndContent(t *testing.T) {
	env := newTestEnv(t)
	archive := buildZip(t, map[string]string{
		"imsmanifest.xml": "<manifest/>",
		"index.html":      "<html>hi</html>",
	})
	n := len(archive)
	half := n / 2

	rec := env.do(env.uploadRequest(t, "b1", archive[:half], fmt.Sprintf("bytes 0-%d/%d", half-1, n)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"files":[{"size":%d}]}`, half), rec.Body.String())

	rec = env.do(env.uploadRequest(t, "b1", archive[half:], fmt.Sprintf("bytes %d-%d/%d", half, n-1, n)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())

	settings, found, err := env.fields.LoadSettings(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://cdn.example.com/static/scorms/b1", settings.PackageURL)
	assert.Equal(t, "course.zip", settings.PackageName)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/content/index.html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>hi</html>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/content/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Did not exist in storage")
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(env.uploadRequest(t, "b1", []byte("not a zip"), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])

	rec = env.do(env.uploadRequest(t, "b1", []byte("x"), "bytes nonsense"))
	assert.Equal(t, "error", decode(t, rec)["status"])

	req := env.as(t, "staff", httptest.NewRequest(http.MethodPost, "/blocks/b1/upload", strings.NewReader("raw")))
	rec = env.do(req)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestUploadStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/upload/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"progress":100,"state":"untracked"}`, rec.Body.String())
}

func TestInvalidKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/blocks/a%20b/upload/status", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func postStatus(data string) *http.Request {
	form := url.Values{"data": {data}}
	req := httptest.NewRequest(http.MethodPost, "/blocks/b1/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestStatusRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", rec.Body.String())

	data := `{"status":"passed","score":"90","scos":{"A":{"data":{"cmi.core.score.raw":"90"}}}}`
	rec = env.do(postStatus(data))
	require.Equal(t, http.StatusOK, rec.Code)
	var echoed string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echoed))
	assert.Equal(t, data, echoed)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/status", nil))
	assert.Equal(t, data, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/completion", nil))
	assert.JSONEq(t, `{"completion":100}`, rec.Body.String())
	assert.Equal(t, []float64{100}, env.pub.completions)
}

func TestStatusMalformed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(postStatus(`{"status":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])

	rec = env.do(postStatus(""))
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestLearnersAreSeparated(t *testing.T) {
	env := newTestEnv(t)

	req := env.as(t, "alice", postStatus(`{"status":"incomplete"}`))
	require.Equal(t, http.StatusOK, env.do(req).Code)

	rec, err := env.fields.LoadRecord(context.Background(), "b1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "incomplete", rec.LessonStatus)

	anon, err := env.fields.LoadRecord(context.Background(), "b1", "anonymous")
	require.NoError(t, err)
	assert.Equal(t, scorm.StatusNotAttempted, anon.LessonStatus)
}

func TestDirectRuntimeAPI(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/blocks/b1/scorm/set_value",
		strings.NewReader(`{"name":"cmi.core.score.raw","value":75}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"success"}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodPost, "/blocks/b1/scorm/set_value",
		strings.NewReader(`{"name":"cmi.core.lesson_status","value":"incomplete"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"success","lesson_score":75}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodPost, "/blocks/b1/scorm/get_value",
		strings.NewReader(`{"name":"cmi.core.lesson_status"}`)))
	assert.JSONEq(t, `{"value":"incomplete"}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodPost, "/blocks/b1/scorm/get_value", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReport(t *testing.T) {
	env := newTestEnv(t)
	data := `{"scos":{"s":{"data":{
		"cmi.interactions._count":1,
		"cmi.interactions.0.description":"Q","cmi.interactions.0.learner_response":"A"}}}}`
	require.Equal(t, http.StatusOK, env.do(postStatus(data)).Code)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/blocks/b1/report", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(env.as(t, "staff", httptest.NewRequest(http.MethodGet, "/blocks/b1/report?limit=10", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"username":"anonymous","question":"Q","answer":"A","submissions_count":1}]`, rec.Body.String())

	rec = env.do(env.as(t, "staff", httptest.NewRequest(http.MethodGet, "/blocks/b1/report?limit=-1", nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// forgedToken names a learner but carries a made-up signature.
func forgedToken(learner string) string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := enc.EncodeToString([]byte(`{"learner_id":"` + learner + `"}`))
	return "Bearer " + header + "." + payload + ".forged"
}

func TestForgedTokenRefused(t *testing.T) {
	tests := []struct {
		name     string
		verifier auth.Verifier
	}{
		{name: "no verifier configured", verifier: auth.NoVerifier{}},
		{name: "signature checked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvWith(t, fieldstore.NewMemory(), tt.verifier)

			req := postStatus(`{"status":"failed"}`)
			req.Header.Set("Authorization", forgedToken("victim"))
			rec := env.do(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			victim, err := env.fields.LoadRecord(context.Background(), "b1", "victim")
			require.NoError(t, err)
			assert.Equal(t, scorm.StatusNotAttempted, victim.LessonStatus)

			// anonymous learner traffic still passes
			assert.Equal(t, http.StatusOK, env.do(postStatus(`{"status":"incomplete"}`)).Code)
		})
	}
}

func TestDefaultRouterRefusesTokens(t *testing.T) {
	logger := logging.NewTestLogger()
	h := NewRouter(Options{
		Status:         status.NewService(fieldstore.NewMemory(), &testPublisher{}, logger, 1),
		AllowAnonymous: true,
		Logger:         logger,
	})

	req := postStatus(`{"status":"failed"}`)
	req.Header.Set("Authorization", forgedToken("victim"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadNeedsToken(t *testing.T) {
	env := newTestEnv(t)
	req := env.uploadRequest(t, "b1", buildZip(t, map[string]string{"imsmanifest.xml": "<manifest/>"}), "")
	req.Header.Del("Authorization")
	assert.Equal(t, http.StatusUnauthorized, env.do(req).Code)

	_, found, err := env.fields.LoadSettings(context.Background(), "b1")
	require.NoError(t, err)
	assert.False(t, found)
}

// configureDuringLoad saves new settings right after the first settings read,
// as a configure command landing mid-upload would.
type configureDuringLoad struct {
	*fieldstore.Memory
	once sync.Once
}

func (c *configureDuringLoad) LoadSettings(ctx context.Context, key string) (fieldstore.Settings, bool, error) {
	st, found, err := c.Memory.LoadSettings(ctx, key)
	c.once.Do(func() {
		_ = c.Memory.SaveSettings(ctx, key, fieldstore.Settings{Weight: 3, Encoding: "cp437"})
	})
	return st, found, err
}

func TestUploadKeepsSettingsChangedMeanwhile(t *testing.T) {
	fields := &configureDuringLoad{Memory: fieldstore.NewMemory()}
	env := newTestEnvWith(t, fields, nil)

	archive := buildZip(t, map[string]string{"imsmanifest.xml": "<manifest/>"})
	rec := env.do(env.uploadRequest(t, "b1", archive, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st, found, err := fields.Memory.LoadSettings(context.Background(), "b1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3.0, st.Weight)
	assert.Equal(t, "cp437", st.Encoding)
	assert.Equal(t, "https://cdn.example.com/static/scorms/b1", st.PackageURL)
	assert.Equal(t, "course.zip", st.PackageName)
	assert.False(t, st.UploadedAt.IsZero())
}
