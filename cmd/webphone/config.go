package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arzzra/janus_phone/pkg/phone"
)

// fileConfig — TOML-представление конфигурации телефона.
type fileConfig struct {
	GatewayURL  string `toml:"gateway_url"`
	Domain      string `toml:"domain"`
	Username    string `toml:"username"`
	AuthUser    string `toml:"authuser"`
	Secret      string `toml:"secret"`
	DisplayName string `toml:"display_name"`
	Proxy       string `toml:"proxy"`

	STUNServers []string `toml:"stun_servers"`

	RegistrationTimeout string `toml:"registration_timeout"`
	GatherTimeout       string `toml:"gather_timeout"`
	KeepaliveInterval   string `toml:"keepalive_interval"`
}

// loadConfig читает TOML файл и собирает phone.Config.
func loadConfig(path string) (phone.Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return phone.Config{}, fmt.Errorf("загрузка конфигурации: %w", err)
	}

	cfg := phone.Config{
		GatewayURL:  strings.TrimSpace(raw.GatewayURL),
		Domain:      strings.TrimSpace(raw.Domain),
		Username:    strings.TrimSpace(raw.Username),
		AuthUser:    strings.TrimSpace(raw.AuthUser),
		Secret:      raw.Secret,
		DisplayName: raw.DisplayName,
		Proxy:       strings.TrimSpace(raw.Proxy),
		STUNServers: raw.STUNServers,
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"registration_timeout", raw.RegistrationTimeout, &cfg.RegistrationTimeout},
		{"gather_timeout", raw.GatherTimeout, &cfg.GatherTimeout},
		{"keepalive_interval", raw.KeepaliveInterval, &cfg.KeepaliveInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) || strings.TrimSpace(d.value) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return phone.Config{}, fmt.Errorf("разбор %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}
