package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// NegotiateURL is the endpoint that hands out the live connection URL and access token.
	NegotiateURL     string
	NegotiateTimeout time.Duration

	// HubEvent is the event name (SignalR target or MQTT topic) carrying readings.
	HubEvent     string
	MQTTClientID string

	// SeriesCapacity bounds each series; 0 keeps every point.
	SeriesCapacity int
	LabelLocation  *time.Location

	Reconnect           bool
	ReconnectMaxElapsed time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	negotiateURL := strings.TrimSpace(os.Getenv("NEGOTIATE_URL"))
	if negotiateURL == "" {
		negotiateURL = "http://localhost:7071/api/negotiate"
	}
	u, err := url.Parse(negotiateURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid NEGOTIATE_URL %q: %w", negotiateURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("invalid NEGOTIATE_URL %q (expected absolute http or https URL)", negotiateURL)
	}

	negotiateTimeoutStr := strings.TrimSpace(os.Getenv("NEGOTIATE_TIMEOUT"))
	if negotiateTimeoutStr == "" {
		negotiateTimeoutStr = "10s"
	}
	negotiateTimeout, err := time.ParseDuration(negotiateTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid NEGOTIATE_TIMEOUT %q: %w", negotiateTimeoutStr, err)
	}
	if negotiateTimeout <= 0 {
		return Config{}, fmt.Errorf("NEGOTIATE_TIMEOUT must be positive, got %v", negotiateTimeout)
	}

	hubEvent := strings.TrimSpace(os.Getenv("HUB_EVENT"))
	if hubEvent == "" {
		hubEvent = "newMessage"
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "cloudpico-viewer"
	}

	seriesCapacityStr := strings.TrimSpace(os.Getenv("SERIES_CAPACITY"))
	if seriesCapacityStr == "" {
		seriesCapacityStr = "0"
	}
	seriesCapacity, err := strconv.Atoi(seriesCapacityStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SERIES_CAPACITY %q: %w", seriesCapacityStr, err)
	}
	if seriesCapacity < 0 {
		return Config{}, fmt.Errorf("SERIES_CAPACITY must be >= 0, got %d", seriesCapacity)
	}

	labelTZ := strings.TrimSpace(os.Getenv("LABEL_TZ"))
	if labelTZ == "" {
		labelTZ = "Local"
	}
	loc, err := time.LoadLocation(labelTZ)
	if err != nil {
		return Config{}, fmt.Errorf("invalid LABEL_TZ %q: %w", labelTZ, err)
	}

	reconnectStr := strings.TrimSpace(os.Getenv("RECONNECT"))
	if reconnectStr == "" {
		reconnectStr = "false"
	}
	reconnect, err := strconv.ParseBool(reconnectStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RECONNECT %q: %w", reconnectStr, err)
	}

	reconnectMaxElapsedStr := strings.TrimSpace(os.Getenv("RECONNECT_MAX_ELAPSED"))
	if reconnectMaxElapsedStr == "" {
		reconnectMaxElapsedStr = "5m"
	}
	reconnectMaxElapsed, err := time.ParseDuration(reconnectMaxElapsedStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RECONNECT_MAX_ELAPSED %q: %w", reconnectMaxElapsedStr, err)
	}
	if reconnectMaxElapsed <= 0 {
		return Config{}, fmt.Errorf("RECONNECT_MAX_ELAPSED must be positive, got %v", reconnectMaxElapsed)
	}

	return Config{
		AppEnv:              appEnv,
		LogLevel:            level,
		HTTPAddr:            httpAddr,
		NegotiateURL:        negotiateURL,
		NegotiateTimeout:    negotiateTimeout,
		HubEvent:            hubEvent,
		MQTTClientID:        mqttClientID,
		SeriesCapacity:      seriesCapacity,
		LabelLocation:       loc,
		Reconnect:           reconnect,
		ReconnectMaxElapsed: reconnectMaxElapsed,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
