package configure

import (
	"bytes"
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "PRESENCE"

func checkErr(err error) {
	if err != nil {
		zap.S().Fatalw("config",
			"error", err,
		)
	}
}

func New() *Config {
	initLogging("info")

	pflag.String("config", "config.yaml", "Config file location")
	pflag.Bool("noheader", false, "Disable the startup header")

	pflag.Parse()

	c, err := Load(pflag.CommandLine)
	checkErr(err)

	initLogging(c.Level)

	return c
}

// Load resolves the config from defaults, the config file named by the
// "config" flag, and PRESENCE_* environment variables, in increasing priority.
func Load(flags *pflag.FlagSet) (*Config, error) {
	config := viper.New()

	// Default config
	b, err := json.Marshal(Defaults())
	if err != nil {
		return nil, err
	}

	tmp := viper.New()
	tmp.SetConfigType("json")

	if err := tmp.ReadConfig(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	if err := config.MergeConfigMap(tmp.AllSettings()); err != nil {
		return nil, err
	}

	if err := config.BindPFlags(flags); err != nil {
		return nil, err
	}

	// File
	file := config.GetString("config")
	config.SetConfigFile(file)

	if _, err := os.Stat(file); err == nil {
		if err := config.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	// Environment
	config.SetEnvPrefix(EnvPrefix)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AllowEmptyEnv(true)
	config.AutomaticEnv()

	bindEnvs(config, Config{})

	c := &Config{}
	if err := config.Unmarshal(c); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate rejects settings the realtime store cannot run with.
func (c *Config) Validate() error {
	// the lease must outlive at least two missed pings
	if c.Presence.LeaseTTL <= 2*c.Presence.PingInterval {
		return errors.NotValidf("presence.lease_ttl %s with presence.ping_interval %s", c.Presence.LeaseTTL, c.Presence.PingInterval)
	}

	// more than one address without sentinel makes a cluster client
	if !c.Redis.Sentinel && len(c.Redis.Addresses) > 1 {
		return errors.NotValidf("%d redis addresses without sentinel", len(c.Redis.Addresses))
	}

	return nil
}

func bindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)

	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)

		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			bindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}

func Defaults() Config {
	c := Config{
		Level:      "info",
		ConfigFile: "config.yaml",
	}

	c.Redis.Addresses = []string{"localhost:6379"}
	c.Redis.Namespace = "presence"

	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.DB = "presence"
	c.Mongo.Collection = "status"

	c.NATS.URL = "nats://127.0.0.1:4222"
	c.NATS.SubjectPrefix = "presence.status"

	c.Presence.Enabled = true
	c.Presence.LeaseTTL = 30 * time.Second
	c.Presence.PingInterval = 10 * time.Second

	c.Reaper.Enabled = true
	c.Reaper.SweepInterval = time.Minute

	c.Health.Enabled = true
	c.Health.Bind = "0.0.0.0:9100"

	c.PProf.Bind = "127.0.0.1:6060"

	c.Monitoring.Bind = "0.0.0.0:9200"

	return c
}

type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	ConfigFile string `mapstructure:"config" json:"config"`
	NoHeader   bool   `mapstructure:"noheader" json:"noheader"`

	Redis struct {
		Username   string   `mapstructure:"username" json:"username"`
		Password   string   `mapstructure:"password" json:"password"`
		Database   int      `mapstructure:"db" json:"db"`
		Sentinel   bool     `mapstructure:"sentinel" json:"sentinel"`
		Addresses  []string `mapstructure:"addresses" json:"addresses"`
		MasterName string   `mapstructure:"master_name" json:"master_name"`
		Namespace  string   `mapstructure:"namespace" json:"namespace"`
	} `mapstructure:"redis" json:"redis"`

	Mongo struct {
		URI        string `mapstructure:"uri" json:"uri"`
		Username   string `mapstructure:"username" json:"username"`
		Password   string `mapstructure:"password" json:"password"`
		DB         string `mapstructure:"db" json:"db"`
		Collection string `mapstructure:"collection" json:"collection"`
		Direct     bool   `mapstructure:"direct" json:"direct"`
	} `mapstructure:"mongo" json:"mongo"`

	NATS struct {
		Enabled       bool   `mapstructure:"enabled" json:"enabled"`
		URL           string `mapstructure:"url" json:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix"`
	} `mapstructure:"nats" json:"nats"`

	Presence struct {
		Enabled      bool          `mapstructure:"enabled" json:"enabled"`
		LeaseTTL     time.Duration `mapstructure:"lease_ttl" json:"lease_ttl"`
		PingInterval time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	} `mapstructure:"presence" json:"presence"`

	Reaper struct {
		Enabled       bool          `mapstructure:"enabled" json:"enabled"`
		SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	} `mapstructure:"reaper" json:"reaper"`

	Health struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"health" json:"health"`

	PProf struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"pprof" json:"pprof"`

	Monitoring struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
		Labels  Labels `mapstructure:"labels" json:"labels"`
	} `mapstructure:"monitoring" json:"monitoring"`

	Credentials struct {
		JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret"`
		Token     string `mapstructure:"token" json:"token"`
	} `mapstructure:"credentials" json:"credentials"`
}

type Labels []struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

func (l Labels) ToPrometheus() prometheus.Labels {
	mp := prometheus.Labels{}

	for _, v := range l {
		mp[v.Key] = v.Value
	}

	return mp
}
