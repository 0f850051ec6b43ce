package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "REPPLUS_"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Devtools struct {
		URL              string `yaml:"url"`
		ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
		EventBuffer      int    `yaml:"eventBuffer"`
	} `yaml:"devtools"`

	Replay struct {
		Timeout         time.Duration `yaml:"timeout"`
		Proxy           string        `yaml:"proxy"`
		Insecure        bool          `yaml:"insecure"`
		FollowRedirects bool          `yaml:"followRedirects"`
		UserAgent       string        `yaml:"userAgent"`
	} `yaml:"replay"`

	Fuzz struct {
		Threads int           `yaml:"threads"`
		Delay   time.Duration `yaml:"delay"`
	} `yaml:"fuzz"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = ":memory:"
	c.Sqlite.Prefix = "repplus_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Server.Addr = "127.0.0.1:8710"
	c.Devtools.URL = "http://127.0.0.1:9222"
	c.Devtools.ProcessTimeoutMS = 3000
	c.Devtools.EventBuffer = 256
	c.Replay.Timeout = 30 * time.Second
	c.Replay.FollowRedirects = true
	c.Replay.UserAgent = "repplus/1.0"
	c.Fuzz.Threads = 4
	return c
}

// Load 依次应用默认值、YAML 文件、.env 与环境变量；path 为空或文件不存在时跳过文件
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env 缺失不是错误
	_ = godotenv.Load()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Devtools.ProcessTimeoutMS <= 0 {
		return fmt.Errorf("devtools.processTimeoutMS must be positive, got %d", c.Devtools.ProcessTimeoutMS)
	}
	if c.Fuzz.Threads <= 0 {
		return fmt.Errorf("fuzz.threads must be positive, got %d", c.Fuzz.Threads)
	}
	if c.Replay.Timeout <= 0 {
		return fmt.Errorf("replay.timeout must be positive, got %s", c.Replay.Timeout)
	}
	return nil
}

// ProcessTimeout 单条协议命令超时
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Devtools.ProcessTimeoutMS) * time.Millisecond
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}
	env.setString("LOG_LEVEL", &c.Log.Level)
	env.setList("LOG_WRITER", &c.Log.Writer)
	env.setString("LOG_FILE", &c.Log.File)
	env.setString("SQLITE_DSN", &c.Sqlite.Dsn)
	env.setString("SERVER_ADDR", &c.Server.Addr)
	env.setString("DEVTOOLS_URL", &c.Devtools.URL)
	env.setInt("PROCESS_TIMEOUT_MS", &c.Devtools.ProcessTimeoutMS)
	env.setInt("EVENT_BUFFER", &c.Devtools.EventBuffer)
	env.setDuration("REPLAY_TIMEOUT", &c.Replay.Timeout)
	env.setString("REPLAY_PROXY", &c.Replay.Proxy)
	env.setBool("REPLAY_INSECURE", &c.Replay.Insecure)
	env.setBool("REPLAY_FOLLOW_REDIRECTS", &c.Replay.FollowRedirects)
	env.setString("REPLAY_USER_AGENT", &c.Replay.UserAgent)
	env.setInt("FUZZ_THREADS", &c.Fuzz.Threads)
	env.setDuration("FUZZ_DELAY", &c.Fuzz.Delay)
	return env.err
}

// envReader 读取 REPPLUS_ 前缀的环境变量，记录第一个解析错误
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, v, err)
	}
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
