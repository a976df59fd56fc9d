// Команда webphone — консольный телефон поверх Janus SIP плагина.
//
// Регистрируется на SIP сервере через шлюз и набирает указанный номер.
// Ctrl-C завершает вызов и освобождает ресурсы шлюза.
//
// Использование:
//
//	webphone -config phone.toml -dial 87771234567
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/janus_phone/pkg/phone"
)

func main() {
	var (
		configPath = flag.String("config", "phone.toml", "путь к TOML конфигурации")
		dial       = flag.String("dial", "", "номер для вызова")
		callerID   = flag.String("caller-id", "", "отображаемое имя для вызова")
		debug      = flag.Bool("debug", false, "подробное логирование")
	)
	flag.Parse()

	if *dial == "" {
		fmt.Fprintln(os.Stderr, "не указан номер: используйте -dial")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, *configPath, *dial, *callerID); err != nil {
		log.Error("ошибка работы телефона", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, configPath, dial, callerID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Logger = log

	p, err := phone.New(cfg)
	if err != nil {
		return err
	}
	defer p.Destroy()

	ended := make(chan struct{})
	p.OnStateChange(func(state phone.CallState, detail string) {
		if detail != "" {
			fmt.Printf("состояние: %s (%s)\n", state, detail)
		} else {
			fmt.Printf("состояние: %s\n", state)
		}
		if state == phone.StateEnded || state == phone.StateError {
			select {
			case <-ended:
			default:
				close(ended)
			}
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Connect(ctx); err != nil {
		return err
	}
	log.Info("подключено к шлюзу", "url", cfg.GatewayURL)

	if err := p.Register(ctx); err != nil {
		return fmt.Errorf("регистрация: %w", err)
	}
	log.Info("зарегистрирован", "username", cfg.Username, "domain", cfg.Domain)

	var opts []phone.CallOption
	if callerID != "" {
		opts = append(opts, phone.WithCallerID(callerID))
	}
	if err := p.Call(ctx, dial, opts...); err != nil {
		return fmt.Errorf("вызов: %w", err)
	}
	log.Info("вызов отправлен", "number", dial)

	select {
	case <-ctx.Done():
		log.Info("прерывание, завершаем вызов")
		p.Hangup()
	case <-ended:
		log.Info("вызов завершён")
	}

	return nil
}
