package models

// LockConfig holds the lock policy read from the locks section of .klockrc.
type LockConfig struct {
	// Duration is the staleness threshold in seconds after which a lock
	// may be broken.
	Duration       int    `yaml:"duration" mapstructure:"duration"`
	FileName       string `yaml:"file_name" mapstructure:"file_name"`
	AllowSelfBreak bool   `yaml:"allow_self_break" mapstructure:"allow_self_break"`
	RequireStale   bool   `yaml:"require_stale" mapstructure:"require_stale"`
	WriteRetries   int    `yaml:"write_retries" mapstructure:"write_retries"`
}

// ContentConfig locates the content tree whose items are locked.
type ContentConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Config is the merged klock configuration: defaults, then .klockrc, then
// KLOCK_* environment variables.
type Config struct {
	Locks      LockConfig    `yaml:"locks" mapstructure:"locks"`
	Content    ContentConfig `yaml:"content" mapstructure:"content"`
	Log        LogConfig     `yaml:"log" mapstructure:"log"`
	UsersFile  string        `yaml:"users_file" mapstructure:"users_file"`
	EventsFile string        `yaml:"events_file" mapstructure:"events_file"`
}
