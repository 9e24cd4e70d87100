package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Mail configures the SMTP delivery channel.
	Mail MailConfig `json:"mail"`

	// Telegram configures the optional Telegram delivery channel.
	// Recipients of the form "tg:<chat_id>" are routed here.
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// Notify controls scheduling and dispatch behavior of the engine.
	Notify NotifyConfig `json:"notify"`

	// Trigger controls the cron cadences that invoke the engine.
	Trigger TriggerConfig `json:"trigger"`
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

// StorageConfig controls the notification store.
//
// Example:
//
//	"storage": { "path": "./duewatch.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// MailConfig configures SMTP delivery.
//
// SendTimeout is a Go duration string bounding one SMTP conversation
// (dial + auth + send). Empty means the engine default (30s).
type MailConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	From        string `json:"from"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

// NotifyConfig controls the notification engine.
//
// Defaults (when fields are omitted/zero):
//   - lead_times: [180, 90, 60, 30, 15, 7, 3, 1, 0]
//   - max_attempts: 3
//   - batch_size: 10
//   - batch_pause: "1s"
//   - retention_days: 90
//   - lookback: "168h" (7 days; recently overdue obligations are still swept)
type NotifyConfig struct {
	LeadTimes   []int  `json:"lead_times,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	BatchPause  string `json:"batch_pause,omitempty"` // Go duration string

	RetentionDays int `json:"retention_days,omitempty"`

	// Lookback is a Go duration string; obligations whose due date passed
	// less than this long ago are still considered by the gap filler.
	Lookback string `json:"lookback,omitempty"`
}

// TriggerConfig controls the cron cadences.
//
// SweepEvery accepts the same forms as the trigger service's schedule
// parser: a cron expression, a Go duration ("5m"), or HH:MM.
// DailyAt/RetentionAt are HH:MM wall-clock times in Timezone.
type TriggerConfig struct {
	Enabled     bool     `json:"enabled"`
	Timezone    string   `json:"timezone,omitempty"`
	SweepEvery  string   `json:"sweep_every,omitempty"`  // default "5m"
	DailyAt     []string `json:"daily_at,omitempty"`     // default 08:00, 14:00, 20:00
	RetentionAt string   `json:"retention_at,omitempty"` // default "02:00"
	DocumentsAt string   `json:"documents_at,omitempty"` // default "08:30"
}
