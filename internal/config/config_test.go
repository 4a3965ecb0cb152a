package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perkbridge.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Game.Host)
	assert.Equal(t, 25565, cfg.Game.Port)
	assert.Equal(t, "/bridge", cfg.Game.BridgePath)
	assert.Equal(t, 15*time.Second, cfg.Game.ProbeInterval)
	assert.Equal(t, 5*time.Second, cfg.Game.ReconnectBase)
	assert.Equal(t, 2*time.Minute, cfg.Game.ReconnectMax)
	assert.Equal(t, 10, cfg.Game.ReconnectLimit)
	assert.Equal(t, 8*time.Second, cfg.Game.CaptureWindow)
	assert.Equal(t, ".", cfg.Discord.CommandPrefix)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "perkbridge.db", cfg.Database.Path)
	assert.Equal(t, "policy.json", cfg.Policy.Path)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenDuration)
	assert.Equal(t, "127.0.0.1:25565", cfg.GameAddr())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
game:
  host: mc.example.com
  port: 25599
  probe_interval: 30s
  admin_handles:
    - TheOperator
discord:
  token: abc123
  operator_id: "99887766"
http:
  port: 9090
backup:
  dir: /var/backups/perkbridge
  retain: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mc.example.com", cfg.Game.Host)
	assert.Equal(t, 25599, cfg.Game.Port)
	assert.Equal(t, 30*time.Second, cfg.Game.ProbeInterval)
	assert.Equal(t, []string{"TheOperator"}, cfg.Game.AdminHandles)
	assert.Equal(t, "mc.example.com:25599", cfg.GameAddr())
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.Backup.Retain)

	// Unset fields still get defaults
	assert.Equal(t, "/bridge", cfg.Game.BridgePath)
	assert.Equal(t, 6*time.Hour, cfg.Backup.Interval)

	assert.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
game:
  host: from-file.example.com
discord:
  token: file-token
`)
	t.Setenv("PERKBRIDGE_GAME_HOST", "from-env.example.com")
	t.Setenv("PERKBRIDGE_GAME_PORT", "25600")
	t.Setenv("PERKBRIDGE_DISCORD_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.example.com", cfg.Game.Host)
	assert.Equal(t, 25600, cfg.Game.Port)
	assert.Equal(t, "env-token", cfg.Discord.Token)
}

func TestEnvIgnoresMalformedInt(t *testing.T) {
	t.Setenv("PERKBRIDGE_HTTP_PORT", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	path := writeConfigFile(t, "game: [not a mapping")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"complete", func(c *Config) {
			c.Discord.Token = "tok"
			c.Discord.OperatorID = "1"
		}, false},
		{"missing token", func(c *Config) {
			c.Discord.OperatorID = "1"
		}, true},
		{"missing operator", func(c *Config) {
			c.Discord.Token = "tok"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
