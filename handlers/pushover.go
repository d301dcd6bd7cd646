package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/engine"
	"github.com/kbressem/ai-template/logging"
)

// DefaultPushoverEndpoint is the Pushover message API.
const DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

type pushoverCredentials struct {
	AppToken string `yaml:"app_token"`
	UserKey  string `yaml:"user_key"`
}

// PushNotificationHandler sends Pushover messages on training start,
// completion, termination and failure. It disables itself with a warning
// when no credentials are configured, and stays silent in debug runs.
type PushNotificationHandler struct {
	EnableNotifications bool

	// Endpoint can be pointed at a test server.
	Endpoint string

	cfg    *config.Config
	creds  pushoverCredentials
	client *http.Client
	log    *zap.Logger
}

func NewPushNotificationHandler(cfg *config.Config) *PushNotificationHandler {
	h := &PushNotificationHandler{
		Endpoint: DefaultPushoverEndpoint,
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logging.L().Named("pushover"),
	}

	if cfg.PushoverCredentials == "" {
		h.log.Warn("no pushover credentials in config, notifications disabled")
		return h
	}
	raw, err := os.ReadFile(cfg.PushoverCredentials)
	if err != nil {
		h.log.Warn("cannot read pushover credentials, notifications disabled",
			zap.String("path", cfg.PushoverCredentials), zap.Error(err))
		return h
	}
	if err := yaml.Unmarshal(raw, &h.creds); err != nil {
		h.log.Warn("cannot parse pushover credentials, notifications disabled",
			zap.String("path", cfg.PushoverCredentials), zap.Error(err))
		return h
	}
	if h.creds.AppToken == "" || h.creds.UserKey == "" {
		h.log.Warn("pushover credentials incomplete, notifications disabled",
			zap.String("path", cfg.PushoverCredentials))
		return h
	}
	if cfg.Debug {
		h.log.Debug("debug run, notifications disabled")
		return h
	}
	h.EnableNotifications = true
	return h
}

// Attach registers the notification points on the engine lifecycle.
func (h *PushNotificationHandler) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.EventStarted, h.StartTraining)
	e.AddEventHandler(engine.EventCompleted, h.PushMetrics)
	e.AddEventHandler(engine.EventTerminated, h.PushTerminated)
	e.AddEventHandler(engine.EventExceptionRaised, h.PushException)
}

// StartTraining announces the run.
func (h *PushNotificationHandler) StartTraining(e *engine.Engine) {
	h.push("Training started", fmt.Sprintf(
		"Run %s: training for up to %d epochs.", h.cfg.RunID, e.State.MaxEpochs))
}

// PushMetrics sends the final metric values.
func (h *PushNotificationHandler) PushMetrics(e *engine.Engine) {
	msg := fmt.Sprintf("Run %s finished.", h.cfg.RunID)
	for name, value := range e.State.Metrics {
		msg += fmt.Sprintf("\n%s: %.4f", name, value)
	}
	h.push("Training completed", msg)
}

// PushTerminated reports an externally stopped run.
func (h *PushNotificationHandler) PushTerminated(e *engine.Engine) {
	h.push("Training terminated", fmt.Sprintf(
		"Run %s was terminated in epoch %d.", h.cfg.RunID, e.State.Epoch))
}

// PushException reports a failed run.
func (h *PushNotificationHandler) PushException(e *engine.Engine) {
	h.push("Training failed", fmt.Sprintf(
		"Run %s failed in epoch %d: %v", h.cfg.RunID, e.State.Epoch, e.State.Err))
}

// push delivers one message. Delivery failures are logged, never raised:
// a dropped notification must not kill a training run.
func (h *PushNotificationHandler) push(title, message string) {
	if !h.EnableNotifications {
		return
	}
	form := url.Values{
		"token":   {h.creds.AppToken},
		"user":    {h.creds.UserKey},
		"title":   {title},
		"message": {message},
	}
	resp, err := h.client.PostForm(h.Endpoint, form)
	if err != nil {
		h.log.Warn("push notification failed", zap.String("title", title), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.log.Warn("push notification rejected",
			zap.String("title", title), zap.Int("status", resp.StatusCode))
	}
}
