package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTogglesEnabled(t *testing.T) {
	cfg := Default()
	require.Equal(t, WildcardOrigin, cfg.TargetOrigin)
	require.True(t, cfg.AutoForwardTranscription)
	require.True(t, cfg.AutoForwardAudiohook)
	require.True(t, cfg.AutoForwardMessages)
	require.True(t, cfg.FilterWorkflowMessages)
	require.True(t, cfg.AutoHandleIncomingCalls)
}

func TestFromYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistbridge.yaml")
	contents := `
target_origin: "https://assist.example.com"
panel_url: "wss://assist.example.com/channel"
audiohook_url: "wss://audiohook.example.com/stream"
cloud:
  region: "mypurecloud.com"
  client_id: "client-123"
conversation_profile_id: "profile-1"
toggles:
  filter_workflow_messages: false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvCloudClientID, "client-from-env")
	t.Setenv(EnvAutoForwardMessages, "false")

	cfg, err := FromYAMLAndEnv()
	require.NoError(t, err)

	require.Equal(t, "https://assist.example.com", cfg.TargetOrigin)
	require.Equal(t, "wss://assist.example.com/channel", cfg.PanelURL)
	require.Equal(t, "mypurecloud.com", cfg.CloudRegion)
	require.Equal(t, "client-from-env", cfg.CloudClientID, "env should override yaml")
	require.Equal(t, "profile-1", cfg.ConversationProfileID)
	require.False(t, cfg.FilterWorkflowMessages)
	require.False(t, cfg.AutoForwardMessages)
	require.True(t, cfg.AutoForwardTranscription, "untouched toggles keep defaults")

	require.NoError(t, cfg.Validate())
}

func TestFromYAMLAndEnvMissingExplicitFile(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := FromYAMLAndEnv()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate(), "panel url is required")

	cfg.PanelURL = "wss://assist.example.com/channel"
	require.NoError(t, cfg.Validate())

	cfg.CloudRegion = "https://mypurecloud.com"
	require.Error(t, cfg.Validate())

	cfg.CloudRegion = "mypurecloud.com"
	cfg.TargetOrigin = ""
	require.Error(t, cfg.Validate())
}
