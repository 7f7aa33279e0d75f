package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	TypingBackendBadger = "badger"
	TypingBackendRedis  = "redis"
)

type Config struct {
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true" validate:"required"`
	TypingBackend   string        `env:"TYPING_BACKEND,default=badger" validate:"oneof=badger redis"`
	RedisAddr       string        `env:"REDIS_ADDR" validate:"required_if=TypingBackend redis"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB,default=0" validate:"gte=0"`
	TypingDebounce  time.Duration `env:"TYPING_DEBOUNCE,default=500ms" validate:"gt=0"`
	TypingTTL       time.Duration `env:"TYPING_TTL,default=10s" validate:"gtfield=TypingDebounce"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=5s" validate:"gt=0"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	HistoryPageSize int           `env:"HISTORY_PAGE_SIZE,default=20" validate:"gte=0"`
	// ModerationDir holds <lang>.txt word lists, moderation is off when empty
	ModerationDir   string `env:"MODERATION_DIR"`
	CharReplacement string `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
	ReplyTemplate   string `env:"REPLY_TEMPLATE"`
}

// Load reads an optional .env file then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	_, err := c.CharacterRune()
	return err
}

func (c Config) CharacterRune() (rune, error) {
	return CharacterRune(c.CharReplacement)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
