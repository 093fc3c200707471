package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile            = "ASSISTBRIDGE_CONFIG_FILE"
	EnvTargetOrigin          = "ASSISTBRIDGE_TARGET_ORIGIN"
	EnvPanelURL              = "ASSISTBRIDGE_PANEL_URL"
	EnvAudiohookURL          = "ASSISTBRIDGE_AUDIOHOOK_URL"
	EnvCloudRegion           = "ASSISTBRIDGE_CLOUD_REGION"
	EnvCloudClientID         = "ASSISTBRIDGE_CLOUD_CLIENT_ID"
	EnvCloudRedirectURL      = "ASSISTBRIDGE_CLOUD_REDIRECT_URL"
	EnvCloudAccessToken      = "ASSISTBRIDGE_CLOUD_ACCESS_TOKEN"
	EnvConversationProfileID = "ASSISTBRIDGE_CONVERSATION_PROFILE_ID"

	EnvAutoForwardTranscription = "ASSISTBRIDGE_AUTO_FORWARD_TRANSCRIPTION"
	EnvAutoForwardAudiohook     = "ASSISTBRIDGE_AUTO_FORWARD_AUDIOHOOK"
	EnvAutoForwardMessages      = "ASSISTBRIDGE_AUTO_FORWARD_MESSAGES"
	EnvFilterWorkflowMessages   = "ASSISTBRIDGE_FILTER_WORKFLOW_MESSAGES"
	EnvAutoHandleIncomingCalls  = "ASSISTBRIDGE_AUTO_HANDLE_INCOMING_CALLS"
)

const defaultConfigFileName = "assistbridge.yaml"

// WildcardOrigin disables origin validation on the assist channel.
const WildcardOrigin = "*"

type Config struct {
	// TargetOrigin validates inbound assist-channel envelopes. "*" accepts any.
	TargetOrigin string
	// PanelURL is the assist panel websocket endpoint.
	PanelURL string
	// AudiohookURL is the audio transcription relay endpoint.
	AudiohookURL string

	CloudRegion      string
	CloudClientID    string
	CloudRedirectURL string
	CloudAccessToken string

	ConversationProfileID string

	AutoForwardTranscription bool
	AutoForwardAudiohook     bool
	AutoForwardMessages      bool
	FilterWorkflowMessages   bool
	AutoHandleIncomingCalls  bool
}

type fileConfig struct {
	TargetOrigin          string     `yaml:"target_origin"`
	PanelURL              string     `yaml:"panel_url"`
	AudiohookURL          string     `yaml:"audiohook_url"`
	Cloud                 fileCloud  `yaml:"cloud"`
	ConversationProfileID string     `yaml:"conversation_profile_id"`
	Toggles               fileToggle `yaml:"toggles"`
}

type fileCloud struct {
	Region      string `yaml:"region"`
	ClientID    string `yaml:"client_id"`
	RedirectURL string `yaml:"redirect_url"`
	AccessToken string `yaml:"access_token"`
}

type fileToggle struct {
	AutoForwardTranscription *bool `yaml:"auto_forward_transcription"`
	AutoForwardAudiohook     *bool `yaml:"auto_forward_audiohook"`
	AutoForwardMessages      *bool `yaml:"auto_forward_messages"`
	FilterWorkflowMessages   *bool `yaml:"filter_workflow_messages"`
	AutoHandleIncomingCalls  *bool `yaml:"auto_handle_incoming_calls"`
}

func Default() Config {
	return Config{
		TargetOrigin:             WildcardOrigin,
		AutoForwardTranscription: true,
		AutoForwardAudiohook:     true,
		AutoForwardMessages:      true,
		FilterWorkflowMessages:   true,
		AutoHandleIncomingCalls:  true,
	}
}

// FromYAMLAndEnv loads defaults, then the YAML file (if present), then
// environment overrides, in that order.
func FromYAMLAndEnv() (Config, error) {
	cfg := Default()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}
	applyYAML(&cfg, fileCfg)
	applyEnv(&cfg)

	return cfg, nil
}

func loadFileConfig() (fileConfig, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigFile))
	explicit := path != ""
	if !explicit {
		path = defaultConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return parsed, nil
}

func applyYAML(cfg *Config, source fileConfig) {
	if value := strings.TrimSpace(source.TargetOrigin); value != "" {
		cfg.TargetOrigin = value
	}
	if value := strings.TrimSpace(source.PanelURL); value != "" {
		cfg.PanelURL = value
	}
	if value := strings.TrimSpace(source.AudiohookURL); value != "" {
		cfg.AudiohookURL = value
	}
	if value := strings.TrimSpace(source.Cloud.Region); value != "" {
		cfg.CloudRegion = value
	}
	if value := strings.TrimSpace(source.Cloud.ClientID); value != "" {
		cfg.CloudClientID = value
	}
	if value := strings.TrimSpace(source.Cloud.RedirectURL); value != "" {
		cfg.CloudRedirectURL = value
	}
	if value := strings.TrimSpace(source.Cloud.AccessToken); value != "" {
		cfg.CloudAccessToken = value
	}
	if value := strings.TrimSpace(source.ConversationProfileID); value != "" {
		cfg.ConversationProfileID = value
	}

	if source.Toggles.AutoForwardTranscription != nil {
		cfg.AutoForwardTranscription = *source.Toggles.AutoForwardTranscription
	}
	if source.Toggles.AutoForwardAudiohook != nil {
		cfg.AutoForwardAudiohook = *source.Toggles.AutoForwardAudiohook
	}
	if source.Toggles.AutoForwardMessages != nil {
		cfg.AutoForwardMessages = *source.Toggles.AutoForwardMessages
	}
	if source.Toggles.FilterWorkflowMessages != nil {
		cfg.FilterWorkflowMessages = *source.Toggles.FilterWorkflowMessages
	}
	if source.Toggles.AutoHandleIncomingCalls != nil {
		cfg.AutoHandleIncomingCalls = *source.Toggles.AutoHandleIncomingCalls
	}
}

func applyEnv(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv(EnvTargetOrigin)); value != "" {
		cfg.TargetOrigin = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvPanelURL)); value != "" {
		cfg.PanelURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvAudiohookURL)); value != "" {
		cfg.AudiohookURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvCloudRegion)); value != "" {
		cfg.CloudRegion = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvCloudClientID)); value != "" {
		cfg.CloudClientID = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvCloudRedirectURL)); value != "" {
		cfg.CloudRedirectURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvCloudAccessToken)); value != "" {
		cfg.CloudAccessToken = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvConversationProfileID)); value != "" {
		cfg.ConversationProfileID = value
	}

	cfg.AutoForwardTranscription = ParseBoolEnv(EnvAutoForwardTranscription, cfg.AutoForwardTranscription)
	cfg.AutoForwardAudiohook = ParseBoolEnv(EnvAutoForwardAudiohook, cfg.AutoForwardAudiohook)
	cfg.AutoForwardMessages = ParseBoolEnv(EnvAutoForwardMessages, cfg.AutoForwardMessages)
	cfg.FilterWorkflowMessages = ParseBoolEnv(EnvFilterWorkflowMessages, cfg.FilterWorkflowMessages)
	cfg.AutoHandleIncomingCalls = ParseBoolEnv(EnvAutoHandleIncomingCalls, cfg.AutoHandleIncomingCalls)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.TargetOrigin) == "" {
		return fmt.Errorf("target_origin is required (use %q to accept any origin)", WildcardOrigin)
	}
	if strings.TrimSpace(c.PanelURL) == "" {
		return fmt.Errorf("panel_url is required")
	}
	if c.CloudRegion != "" && strings.Contains(c.CloudRegion, "://") {
		return fmt.Errorf("cloud.region must be a bare domain, not a URL: %q", c.CloudRegion)
	}
	return nil
}

// ParseBoolEnv reads a boolean environment toggle, returning fallback when the
// variable is unset or malformed.
func ParseBoolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
