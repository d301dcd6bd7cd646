package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/engine"
)

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func pushoverConfig(credPath string) *config.Config {
	return &config.Config{
		RunID:               "push",
		PushoverCredentials: credPath,
		Model:               config.ModelConfig{OutChannels: 2},
	}
}

func TestPushoverDisabledWithoutCredentials(t *testing.T) {
	logs := observeLogs(t)
	h := NewPushNotificationHandler(pushoverConfig(""))
	if h.EnableNotifications {
		t.Fatal("enabled without credentials")
	}
	if logs.FilterMessage("no pushover credentials in config, notifications disabled").Len() != 1 {
		t.Fatalf("missing warning, got %v", logs.All())
	}
}

func TestPushoverDisabledOnUnreadableFile(t *testing.T) {
	observeLogs(t)
	h := NewPushNotificationHandler(pushoverConfig(filepath.Join(t.TempDir(), "missing.yaml")))
	if h.EnableNotifications {
		t.Fatal("enabled with an unreadable credentials file")
	}
}

func TestPushoverDisabledOnIncompleteCredentials(t *testing.T) {
	observeLogs(t)
	path := writeCredentials(t, "app_token: abc\n")
	h := NewPushNotificationHandler(pushoverConfig(path))
	if h.EnableNotifications {
		t.Fatal("enabled with incomplete credentials")
	}
}

func TestPushoverDisabledInDebugRuns(t *testing.T) {
	observeLogs(t)
	path := writeCredentials(t, "app_token: abc\nuser_key: def\n")
	cfg := pushoverConfig(path)
	cfg.Debug = true
	h := NewPushNotificationHandler(cfg)
	if h.EnableNotifications {
		t.Fatal("enabled in a debug run")
	}
}

func TestPushoverEnabledWithFullCredentials(t *testing.T) {
	observeLogs(t)
	path := writeCredentials(t, "app_token: abc\nuser_key: def\n")
	h := NewPushNotificationHandler(pushoverConfig(path))
	if !h.EnableNotifications {
		t.Fatal("not enabled with full credentials")
	}
}

func TestPushoverAttach(t *testing.T) {
	observeLogs(t)
	h := NewPushNotificationHandler(pushoverConfig(""))
	e := engine.New()
	h.Attach(e)
	if !e.HasEventHandler(engine.EventStarted, h.StartTraining) {
		t.Fatal("StartTraining not attached")
	}
	if !e.HasEventHandler(engine.EventCompleted, h.PushMetrics) {
		t.Fatal("PushMetrics not attached")
	}
	if !e.HasEventHandler(engine.EventTerminated, h.PushTerminated) {
		t.Fatal("PushTerminated not attached")
	}
	if !e.HasEventHandler(engine.EventExceptionRaised, h.PushException) {
		t.Fatal("PushException not attached")
	}
}

func TestPushoverDeliversMessage(t *testing.T) {
	observeLogs(t)
	var gotToken, gotUser, gotTitle, gotMessage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		gotToken = r.FormValue("token")
		gotUser = r.FormValue("user")
		gotTitle = r.FormValue("title")
		gotMessage = r.FormValue("message")
	}))
	defer srv.Close()

	path := writeCredentials(t, "app_token: abc\nuser_key: def\n")
	h := NewPushNotificationHandler(pushoverConfig(path))
	h.Endpoint = srv.URL

	e := engine.New()
	e.State.MaxEpochs = 7
	h.StartTraining(e)

	if gotToken != "abc" || gotUser != "def" {
		t.Fatalf("credentials = %q/%q", gotToken, gotUser)
	}
	if gotTitle != "Training started" {
		t.Fatalf("title = %q", gotTitle)
	}
	if gotMessage == "" {
		t.Fatal("empty message")
	}
}

func TestPushoverCompletedIncludesMetrics(t *testing.T) {
	observeLogs(t)
	var gotMessage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotMessage = r.FormValue("message")
	}))
	defer srv.Close()

	path := writeCredentials(t, "app_token: abc\nuser_key: def\n")
	h := NewPushNotificationHandler(pushoverConfig(path))
	h.Endpoint = srv.URL

	e := engine.New()
	e.State.Metrics["val_mean_dice"] = 0.75
	h.PushMetrics(e)

	if gotMessage == "" {
		t.Fatal("no message delivered")
	}
	if want := "val_mean_dice: 0.7500"; !strings.Contains(gotMessage, want) {
		t.Fatalf("message %q does not include %q", gotMessage, want)
	}
}

func TestPushoverDeliveryFailureIsLoggedNotRaised(t *testing.T) {
	logs := observeLogs(t)
	path := writeCredentials(t, "app_token: abc\nuser_key: def\n")
	h := NewPushNotificationHandler(pushoverConfig(path))
	h.Endpoint = "http://127.0.0.1:1" // nothing listens here

	h.push("title", "message") // must not panic or error out
	if logs.FilterMessage("push notification failed").Len() != 1 {
		t.Fatalf("delivery failure not logged: %v", logs.All())
	}
}

func TestPushoverDisabledHandlerSendsNothing(t *testing.T) {
	observeLogs(t)
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	h := NewPushNotificationHandler(pushoverConfig(""))
	h.Endpoint = srv.URL
	h.StartTraining(engine.New())
	if called {
		t.Fatal("disabled handler delivered a message")
	}
}
