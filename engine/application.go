package engine

type ApplicationConfig struct {
	// The application name, passed to the device backend.
	Name string
	// TOML configuration file. Empty runs with core.DefaultConfig. When set,
	// the file is watched and the log level follows it.
	ConfigPath string
	// Frames to run before Run returns. Zero runs until quit.
	Frames uint64
}
