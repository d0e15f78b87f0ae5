package switchbot

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/frostdev-ops/pma-alerting-go/pkg/version"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL    = "https://api.switch-bot.com/v1.1"
	DeviceTypePlugJP  = "Plug Mini (JP)"
	statusCodeSuccess = 100
	httpTimeout       = 10 * time.Second
)

// Config holds the credentials and retry policy of the cloud API client.
type Config struct {
	Token      string
	Secret     string
	BaseURL    string
	DeviceType string
	MaxRetries int
	BaseDelay  time.Duration
}

// Device is one entry of the device list.
type Device struct {
	DeviceID           string `json:"deviceId"`
	DeviceName         string `json:"deviceName"`
	DeviceType         string `json:"deviceType"`
	EnableCloudService bool   `json:"enableCloudService"`
	HubDeviceID        string `json:"hubDeviceId"`
}

// PlugStatus is the status body of a smart plug.
type PlugStatus struct {
	DeviceID         string  `json:"deviceId"`
	DeviceType       string  `json:"deviceType"`
	Power            string  `json:"power"`
	Voltage          float64 `json:"voltage"`
	Weight           float64 `json:"weight"`
	ElectricityOfDay float64 `json:"electricityOfDay"`
	ElectricCurrent  float64 `json:"electricCurrent"`
}

// On reports whether the plug relay is closed.
func (s PlugStatus) On() bool {
	return s.Power == "on"
}

// Command is a device command request body.
type Command struct {
	Command     string `json:"command"`
	Parameter   string `json:"parameter"`
	CommandType string `json:"commandType"`
}

// TurnOn is the plug relay power-on command.
var TurnOn = Command{Command: "turnOn", Parameter: "default", CommandType: "command"}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

// APIError is returned when the cloud API answers with a non-success status.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("switchbot %s failed: statusCode %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client talks to the SwitchBot cloud API and caches device ids by name.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger

	mu      sync.Mutex
	devices map[string]string

	now   func() time.Time
	nonce func() string
}

// NewClient creates a client. A nil httpClient gets a 10s timeout client.
func NewClient(config Config, httpClient *http.Client, logger *logrus.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.DeviceType == "" {
		config.DeviceType = DeviceTypePlugJP
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		devices:    make(map[string]string),
		now:        time.Now,
		nonce:      func() string { return uuid.New().String() },
	}
}

// Sign returns the request signature for token, timestamp and nonce.
func Sign(token, secret, t, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token + t + nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) signHeaders(h http.Header) {
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.nonce()
	h.Set("Authorization", c.config.Token)
	h.Set("sign", Sign(c.config.Token, c.config.Secret, t, nonce))
	h.Set("t", t)
	h.Set("nonce", nonce)
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("User-Agent", version.UserAgent())
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	c.signHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("switchbot %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	if env.StatusCode != statusCodeSuccess {
		return &APIError{Op: op, StatusCode: env.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, out); err != nil {
			return fmt.Errorf("failed to decode %s body: %w", op, err)
		}
	}
	return nil
}

// Devices lists the account's devices.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var body struct {
		DeviceList []Device `json:"deviceList"`
	}
	if err := c.do(ctx, "list devices", http.MethodGet, "/devices", nil, &body); err != nil {
		return nil, err
	}
	return body.DeviceList, nil
}

// DeviceID resolves a device name to its id, refreshing the cache on a miss.
// Only cloud-enabled devices of the configured type are cached.
func (c *Client) DeviceID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.devices[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	devices, err := c.Devices(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range devices {
		if !d.EnableCloudService || d.DeviceType != c.config.DeviceType {
			continue
		}
		c.devices[d.DeviceName] = d.DeviceID
	}
	id, ok = c.devices[name]
	if !ok {
		return "", fmt.Errorf("unable to find device id of %q", name)
	}
	return id, nil
}

// Invalidate drops the cached id of name.
func (c *Client) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, name)
}

// PlugStatus fetches the status of a plug by device id.
func (c *Client) PlugStatus(ctx context.Context, deviceID string) (*PlugStatus, error) {
	var status PlugStatus
	path := "/devices/" + url.PathEscape(deviceID) + "/status"
	if err := c.do(ctx, "device status", http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SendCommand sends cmd to a device by id.
func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd Command) error {
	path := "/devices/" + url.PathEscape(deviceID) + "/commands"
	return c.do(ctx, "send command", http.MethodPost, path, cmd, nil)
}

// WithDevice resolves name and runs op with its id. Failed attempts are
// retried with exponential backoff after invalidating the cached id.
func (c *Client) WithDevice(ctx context.Context, name string, op func(ctx context.Context, deviceID string) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	if c.config.MaxRetries == 0 {
		id, err := c.DeviceID(ctx, name)
		if err != nil {
			return err
		}
		return op(ctx, id)
	}

	attempt := 0
	operation := func() error {
		if attempt > 0 {
			c.Invalidate(name)
		}
		attempt++
		id, err := c.DeviceID(ctx, name)
		if err != nil {
			return err
		}
		return op(ctx, id)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"device":  name,
			"attempt": attempt,
			"retries": c.config.MaxRetries,
			"backoff": wait.String(),
			"error":   err,
		}).Warn("Retrying SwitchBot call")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.MaxRetries)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}
