package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration: where to listen, which room to
// join, and where the upstream collaborators live. Values come from an
// optional YAML file with environment variables taking precedence.
type Config struct {
	// Listen enables the discrete event adapter on host:port when non-empty.
	Listen string `yaml:"listen"`

	Discord struct {
		// Token enables the continuous track adapter when non-empty.
		Token     string `yaml:"token"`
		GuildID   string `yaml:"guild_id"`
		ChannelID string `yaml:"channel_id"`
	} `yaml:"discord"`

	Upstream struct {
		STTURL        string `yaml:"stt_url"`
		STTLanguage   string `yaml:"stt_language"`
		TTSURL        string `yaml:"tts_url"`
		TTSAuthToken  string `yaml:"tts_auth_token"`
		DispatcherURL string `yaml:"dispatcher_url"`
		DispatchModel string `yaml:"dispatch_model"`
		DispatchToken string `yaml:"dispatch_token"`
		MCPURL        string `yaml:"mcp_url"`
		MCPTool       string `yaml:"mcp_tool"`
		WakeURL       string `yaml:"wake_url"`
	} `yaml:"upstream"`

	Flags struct {
		URL         string `yaml:"url"`
		PostgresDSN string `yaml:"postgres_dsn"`
		RefreshSec  int    `yaml:"refresh_sec"`
	} `yaml:"flags"`
}

// Load reads the YAML file at path (when non-empty) and applies env
// overrides on top.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("LISTEN_ADDR", &c.Listen)
	envStr("DISCORD_TOKEN", &c.Discord.Token)
	envStr("DISCORD_GUILD_ID", &c.Discord.GuildID)
	envStr("DISCORD_CHANNEL_ID", &c.Discord.ChannelID)
	envStr("STT_URL", &c.Upstream.STTURL)
	envStr("STT_LANGUAGE", &c.Upstream.STTLanguage)
	envStr("TTS_URL", &c.Upstream.TTSURL)
	envStr("TTS_AUTH_TOKEN", &c.Upstream.TTSAuthToken)
	envStr("DISPATCHER_URL", &c.Upstream.DispatcherURL)
	envStr("DISPATCHER_MODEL", &c.Upstream.DispatchModel)
	envStr("DISPATCHER_AUTH_TOKEN", &c.Upstream.DispatchToken)
	envStr("MCP_URL", &c.Upstream.MCPURL)
	envStr("MCP_TOOL", &c.Upstream.MCPTool)
	envStr("WAKE_URL", &c.Upstream.WakeURL)
	envStr("FLAGS_URL", &c.Flags.URL)
	envStr("FLAGS_POSTGRES_DSN", &c.Flags.PostgresDSN)
}

func envStr(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
