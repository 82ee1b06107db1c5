package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls the claim scheduler's timing engine.
	Scheduler SchedulerConfig `json:"scheduler"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Slots seeds the slot catalog on first start. Entries added or removed
	// at runtime by admin commands live in the persisted snapshot; seeds are
	// only merged for codes the snapshot doesn't know yet.
	Slots []SlotSeed `json:"slots,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the claim scheduler.
//
// All durations are Go duration strings (e.g. "15s", "10m").
//
// Defaults (when fields are omitted/empty):
//   - tick_interval: "15s"
//   - offer_window: "10m"
type SchedulerConfig struct {
	TickInterval string `json:"tick_interval,omitempty"`
	OfferWindow  string `json:"offer_window,omitempty"`

	// Timezone used for rendering absolute times (IANA TZ, e.g. "Europe/Berlin").
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./respbot_state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls the async alert pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// SlotSeed declares a respawn slot in the config file.
type SlotSeed struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Tier int    `json:"tier"`
}
