package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/shineum/maildeck/internal/auth"
	"github.com/shineum/maildeck/internal/email"
	"github.com/shineum/maildeck/internal/mailbox"
	"github.com/shineum/maildeck/internal/provider"
	"github.com/shineum/maildeck/internal/provider/stdout"
	"github.com/shineum/maildeck/internal/senders"
	"github.com/shineum/maildeck/internal/store/memory"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	store  *memory.Store
	auth   *auth.Manager
	out    *bytes.Buffer
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	out := &bytes.Buffer{}
	env := newTestEnvWithProvider(t, stdout.NewWithWriter(out))
	env.out = out
	return env
}

// newTestEnvWithProvider builds an environment dispatching through prov.
func newTestEnvWithProvider(t *testing.T, prov provider.Provider) *testEnv {
	t.Helper()

	st := memory.New()
	reg := senders.NewStatic([]string{"ops@example.com", "@example.org"})
	svc := mailbox.New(st, prov, reg, mailbox.Config{})

	mgr, err := auth.NewManager(auth.Config{Username: "admin", Password: "s3cret", Secret: "test-signing-secret"})
	if err != nil {
		t.Fatalf("failed to create auth manager: %v", err)
	}
	token, _, err := mgr.Issue("admin")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	return &testEnv{
		server: New(svc, mgr, reg, Config{LoginRatePerMinute: 100}),
		store:  st,
		auth:   mgr,
		out:    &bytes.Buffer{},
		token:  token,
	}
}

// do runs req against the app, adding the bearer token when authed is set.
func (e *testEnv) do(t *testing.T, req *http.Request, authed bool) *http.Response {
	t.Helper()
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(data)
}

func seedMessage(t *testing.T, st *memory.Store, key, subject string, at time.Time, attachments ...email.Attachment) []byte {
	t.Helper()
	raw, err := mailbox.BuildRawMessage(&email.Email{
		From:        "ops@example.com",
		To:          []string{"team@example.com"},
		Sender:      "ops@example.com",
		Subject:     subject,
		HtmlBody:    "<p>" + subject + "</p>",
		Attachments: attachments,
	}, at)
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}
	st.Seed(key, raw, at)
	return raw
}

type multipartField struct {
	name, value string
}

type multipartFile struct {
	field, filename, contentType, content string
}

func multipartRequest(t *testing.T, target string, fields []multipartField, files []multipartFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.Copy(part, strings.NewReader(f.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// rejectingProvider fails every send with err.
type rejectingProvider struct {
	err   error
	calls int
}

func (p *rejectingProvider) Send(context.Context, *email.Email, []byte) (string, error) {
	p.calls++
	return "", p.err
}

func (p *rejectingProvider) Name() string { return "ses" }
