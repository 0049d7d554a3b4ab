package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	Telegram struct {
		Token       string
		AdminChatID int64   `mapstructure:"admin_chat_id"`
		Recipients  []int64 `mapstructure:"recipients"`
		PollTimeout int     `mapstructure:"poll_timeout"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN             string
		MaxConns        int32         `mapstructure:"max_conns"`
		MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
		LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Ledger struct {
		RetryAttempts  int           `mapstructure:"retry_attempts"`
		RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	} `mapstructure:"ledger"`

	Tracing struct {
		Enabled     bool
		ServiceName string  `mapstructure:"service_name"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.timezone", "Europe/Berlin")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("postgres.lock_timeout", 5*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_base_delay", 50*time.Millisecond)
	v.SetDefault("tracing.service_name", "cometa-warehouse")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads the yaml file at path. Values can be overridden through the
// environment as APP_<SECTION>_<KEY>, e.g. APP_POSTGRES_DSN; a .env file in
// the working directory is loaded first if present.
func Load(path string) (Config, error) {
	var c Config
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c, err
	}

	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("config: postgres.dsn is required")
	}
	if c.Ledger.RetryAttempts < 1 {
		return errors.New("config: ledger.retry_attempts must be >= 1")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("config: tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}
