package core

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

type LogConfig struct {
	Level string `toml:"level"`
}

type RayTracingConfig struct {
	// Upper bound of scratch buffers leased at the same time. Acquiring a lease
	// past this bound waits for a prior submission to retire.
	MaxScratchLeases int64 `toml:"max_scratch_leases"`
	// Smallest scratch block the pool allocates, in bytes.
	MinScratchBlockSize uint64 `toml:"min_scratch_block_size"`
	JobWorkers          int    `toml:"job_workers"`
	RetireTimeoutMS     int64  `toml:"retire_timeout_ms"`
	// Frames submitted but not yet retired before the next one waits.
	MaxFramesInFlight int `toml:"max_frames_in_flight"`
}

type Config struct {
	Log        LogConfig        `toml:"log"`
	RayTracing RayTracingConfig `toml:"raytracing"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		RayTracing: RayTracingConfig{
			MaxScratchLeases:    8,
			MinScratchBlockSize: 64 * 1024,
			JobWorkers:          1,
			RetireTimeoutMS:     5000,
			MaxFramesInFlight:   2,
		},
	}
}

func (c *Config) RetireTimeout() time.Duration {
	return time.Duration(c.RayTracing.RetireTimeoutMS) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.RayTracing.MaxScratchLeases < 1 {
		return errors.Newf("raytracing.max_scratch_leases must be at least 1, got %d", c.RayTracing.MaxScratchLeases)
	}
	if c.RayTracing.JobWorkers < 1 {
		return errors.Newf("raytracing.job_workers must be at least 1, got %d", c.RayTracing.JobWorkers)
	}
	if c.RayTracing.RetireTimeoutMS <= 0 {
		return errors.Newf("raytracing.retire_timeout_ms must be positive, got %d", c.RayTracing.RetireTimeoutMS)
	}
	if c.RayTracing.MaxFramesInFlight < 1 {
		return errors.Newf("raytracing.max_frames_in_flight must be at least 1, got %d", c.RayTracing.MaxFramesInFlight)
	}
	return nil
}

// ParseConfig decodes a TOML document on top of DefaultConfig. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// WatchConfig reloads the file at path whenever it is written or replaced and
// hands the new config to onChange. The log level is applied before onChange
// runs. Invalid documents are logged and skipped. The returned func stops the
// watcher and is safe to call more than once.
func WatchConfig(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	// Editors usually replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != abs || e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				cfg, err := LoadConfig(abs)
				if err != nil {
					LogWarn("config reload of %s skipped: %s", abs, err)
					continue
				}
				if err := SetLogLevel(cfg.Log.Level); err != nil {
					LogWarn("config reload: %s", err)
				}
				LogInfo("config reloaded from %s", abs)
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				LogError(err.Error())
			case <-done:
				return
			}
		}
	}()

	var stopOnce sync.Once
	var closeErr error
	return func() error {
		stopOnce.Do(func() {
			close(done)
			closeErr = watcher.Close()
		})
		return closeErr
	}, nil
}
