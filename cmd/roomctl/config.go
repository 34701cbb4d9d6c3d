package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"virtualroom-backend/internal/roomsync"
)

// Config roomctl 설정 (roomctl.yaml, ROOMCTL_* 환경 변수)
type Config struct {
	Mode     string        `mapstructure:"mode"`
	Name     string        `mapstructure:"name"`
	Direct   bool          `mapstructure:"direct"`
	Relay    bool          `mapstructure:"relay"`
	Interval time.Duration `mapstructure:"interval"`

	Server struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"server"`

	Room struct {
		Code      string `mapstructure:"code"`
		Title     string `mapstructure:"title"`
		Companion bool   `mapstructure:"companion"`
	} `mapstructure:"room"`

	Auth struct {
		HostToken        string `mapstructure:"host_token"`
		ParticipantToken string `mapstructure:"participant_token"`
	} `mapstructure:"auth"`
}

// newFlagSet 명령행 플래그 (설정 키와 같은 이름)
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("roomctl", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "config file (default ./roomctl.yaml)")
	fs.StringP("mode", "m", "guest", "host, guest or companion")
	fs.StringP("name", "n", "", "display name")
	fs.String("room.code", "", "room code to join")
	fs.String("server.url", "http://localhost:8080", "room server base URL")
	fs.Bool("direct", false, "host: admit every guest without review")
	fs.Bool("relay", false, "bridge the fast-path bus through the server relay")
	return fs
}

// LoadConfig 기본값 → 설정 파일 → 환경 변수 → 플래그 순으로 덮어쓴다
func LoadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	path, _ := fs.GetString("config")

	v := viper.New()

	v.SetDefault("mode", "guest")
	v.SetDefault("name", "")
	v.SetDefault("direct", false)
	v.SetDefault("relay", false)
	v.SetDefault("interval", roomsync.DefaultInterval)
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("room.code", "")
	v.SetDefault("room.title", "Consultation")
	v.SetDefault("room.companion", false)
	v.SetDefault("auth.host_token", "")
	v.SetDefault("auth.participant_token", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roomctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROOMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" && f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, cfg.validate()
}

// SessionMode mode 문자열을 roomsync.Mode로 변환
func (c *Config) SessionMode() (roomsync.Mode, error) {
	switch strings.ToLower(c.Mode) {
	case "host":
		return roomsync.ModeHost, nil
	case "guest":
		return roomsync.ModeGuest, nil
	case "companion":
		return roomsync.ModeCompanion, nil
	}
	return 0, fmt.Errorf("unknown mode %q (host, guest, companion)", c.Mode)
}

func (c *Config) validate() error {
	mode, err := c.SessionMode()
	if err != nil {
		return err
	}
	switch mode {
	case roomsync.ModeGuest:
		if strings.TrimSpace(c.Name) == "" {
			return errors.New("guest mode requires a name")
		}
		if c.Room.Code == "" {
			return errors.New("guest mode requires room.code")
		}
	case roomsync.ModeHost:
		if c.Server.URL != "" && c.Auth.HostToken == "" {
			return errors.New("host mode requires auth.host_token")
		}
	case roomsync.ModeCompanion:
		if c.Room.Code == "" {
			return errors.New("companion mode requires room.code")
		}
	}
	return nil
}

// SessionConfig roomsync 세션 설정 생성
func (c *Config) SessionConfig() (roomsync.Config, error) {
	mode, err := c.SessionMode()
	if err != nil {
		return roomsync.Config{}, err
	}
	return roomsync.Config{
		BaseURL:          c.Server.URL,
		RoomCode:         c.Room.Code,
		Title:            c.Room.Title,
		Name:             strings.TrimSpace(c.Name),
		Mode:             mode,
		HostToken:        c.Auth.HostToken,
		ParticipantToken: c.Auth.ParticipantToken,
		Direct:           c.Direct,
		AllowCompanion:   c.Room.Companion,
		Relay:            c.Relay,
		Interval:         c.Interval,
	}, nil
}
