package phone

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/janus_phone/pkg/janus"
)

// DefaultSIPPlugin — идентификатор SIP плагина Janus.
const DefaultSIPPlugin = "janus.plugin.sip"

const (
	// DefaultRegistrationTimeout — потолок ожидания исхода регистрации.
	DefaultRegistrationTimeout = 10 * time.Second

	// DefaultRegisterPollInterval — шаг опроса состояния при регистрации.
	DefaultRegisterPollInterval = 100 * time.Millisecond
)

// Config задает параметры телефона. Обязательны GatewayURL, Domain и
// Username; для остальных полей нулевое значение заменяется разумным
// умолчанием.
type Config struct {
	// GatewayURL — WebSocket адрес шлюза, например "ws://janus.local:8188/janus"
	GatewayURL string

	// Domain — SIP домен аккаунта и исходящих вызовов
	Domain string

	// Username — имя аккаунта либо полный sip: URI
	Username string

	// AuthUser — логин авторизации, по умолчанию Username
	AuthUser string

	// Secret — пароль аккаунта
	Secret string

	// DisplayName — отображаемое имя звонящего
	DisplayName string

	// Proxy — исходящий прокси, по умолчанию sip:<Domain>:5060
	Proxy string

	// Plugin — плагин шлюза, по умолчанию janus.plugin.sip
	Plugin string

	// STUNServers — по умолчанию один публичный сервер
	STUNServers []string

	// Таймауты. Нулевые значения заменяются умолчаниями:
	// транзакция 10s, регистрация 10s, опрос 100ms, сбор кандидатов 3s,
	// keepalive 25s.
	TransactionTimeout   time.Duration
	RegistrationTimeout  time.Duration
	RegisterPollInterval time.Duration
	GatherTimeout        time.Duration
	KeepaliveInterval    time.Duration

	// Logger — по умолчанию slog.Default()
	Logger *slog.Logger

	// Media — фабрика медиа-сессий, по умолчанию WebRTCFactory
	Media MediaFactory

	// Registerer — реестр Prometheus; nil отключает экспорт метрик
	Registerer prometheus.Registerer
}

// withDefaults валидирует конфигурацию и заполняет умолчания.
func (cfg *Config) withDefaults() error {
	if cfg.GatewayURL == "" {
		return errors.New("phone: config: GatewayURL is required")
	}
	if cfg.Domain == "" {
		return errors.New("phone: config: Domain is required")
	}
	if cfg.Username == "" {
		return errors.New("phone: config: Username is required")
	}

	if cfg.AuthUser == "" {
		cfg.AuthUser = cfg.Username
	}
	if cfg.Proxy == "" {
		cfg.Proxy = defaultProxy(cfg.Domain)
	} else {
		var uri sip.Uri
		if err := sip.ParseUri(cfg.Proxy, &uri); err != nil {
			return fmt.Errorf("phone: config: некорректный Proxy URI: %w", err)
		}
	}
	if cfg.Plugin == "" {
		cfg.Plugin = DefaultSIPPlugin
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultSTUNServers
	}

	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = janus.DefaultRequestTimeout
	}
	if cfg.RegistrationTimeout <= 0 {
		cfg.RegistrationTimeout = DefaultRegistrationTimeout
	}
	if cfg.RegisterPollInterval <= 0 {
		cfg.RegisterPollInterval = DefaultRegisterPollInterval
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = janus.DefaultKeepaliveInterval
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Media == nil {
		cfg.Media = WebRTCFactory{}
	}

	return nil
}
