package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/pkg/version"
	"github.com/sirupsen/logrus"
)

// DefaultPushoverURL is the Pushover message endpoint.
const DefaultPushoverURL = "https://api.pushover.net/1/messages.json"

// PushoverConfig contains pager configuration
type PushoverConfig struct {
	APIKey  string
	UserKey string
	URL     string
	// Priority 2 is an emergency alert that repeats every Retry until
	// acknowledged or Expire elapses.
	Priority int
	Retry    time.Duration
	Expire   time.Duration
	Sound    string
}

// PushoverChannel pages through Pushover. It never pages for recoveries.
type PushoverChannel struct {
	name   string
	config PushoverConfig
	client *http.Client
	logger *logrus.Logger
}

// NewPushoverChannel creates the paging channel.
func NewPushoverChannel(name string, config PushoverConfig, client *http.Client, logger *logrus.Logger) *PushoverChannel {
	if config.URL == "" {
		config.URL = DefaultPushoverURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushoverChannel{name: name, config: config, client: client, logger: logger}
}

func (p *PushoverChannel) Name() string { return p.name }

func (p *PushoverChannel) Send(ctx context.Context, event alarm.NotificationEvent) error {
	if event.NewStatus == alarm.StatusOK {
		p.logger.WithField("rule_id", event.RuleID).Info("Skipping page for OK state")
		return nil
	}

	msg := Format(event)
	form := url.Values{
		"token":    {p.config.APIKey},
		"user":     {p.config.UserKey},
		"title":    {truncate(msg.Title, 250)},
		"message":  {truncate(msg.Body, 1024)},
		"priority": {strconv.Itoa(p.config.Priority)},
	}
	if p.config.Priority == 2 {
		form.Set("retry", strconv.Itoa(int(p.config.Retry/time.Second)))
		form.Set("expire", strconv.Itoa(int(p.config.Expire/time.Second)))
	}
	if p.config.Sound != "" {
		form.Set("sound", p.config.Sound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
