package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	RealtimePort string
	DatabaseURL  string
	Migrations   bool
	StoreKind    string

	JWTSecret          string
	JWTIssuer          string
	RoleCacheTTL       time.Duration
	RoleResolveTimeout time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	PollInterval time.Duration
	BatchSize    int
	DedupWindow  time.Duration
	RedisAddr    string
	RedisDB      int
	ReminderLead time.Duration

	NotifProviders    []string
	NotifTimeout      time.Duration
	NotifWebhookURL   string
	NotifWebhookToken string
	VAPIDPublicKey    string
	VAPIDPrivateKey   string
	VAPIDSubject      string
	MQTTBroker        string
	MQTTClientID      string
	MQTTTopicPrefix   string
	TelegramBotToken  string
	TelegramChatID    int64

	OfflineCacheVersion string
	OTLPEndpoint        string
	OTLPInsecure        bool
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set take precedence over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	return Config{
		Port:         readString("PORT", "8080"),
		RealtimePort: readString("REALTIME_PORT", "8085"),
		DatabaseURL:  os.Getenv("DB_DSN"),
		Migrations:   readBool("MIGRATIONS", false),
		StoreKind:    readString("STORE", "postgres"),

		JWTSecret:          os.Getenv("AUTH_JWT_SECRET"),
		JWTIssuer:          os.Getenv("AUTH_JWT_ISSUER"),
		RoleCacheTTL:       readDurationSeconds("ROLE_CACHE_TTL_SECONDS", 60),
		RoleResolveTimeout: readDurationMillis("ROLE_RESOLVE_TIMEOUT_MS", 2000),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),

		PollInterval: readDurationSeconds("REALTIME_POLL_SECONDS", 1),
		BatchSize:    readInt("REALTIME_BATCH_SIZE", 100),
		DedupWindow:  readDurationSeconds("ROUTER_DEDUP_WINDOW_SECONDS", 600),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisDB:      readInt("REDIS_DB", 0),
		ReminderLead: time.Duration(readInt("REMINDER_LEAD_MINUTES", 120)) * time.Minute,

		NotifProviders:    readList("NOTIF_PROVIDERS", "log"),
		NotifTimeout:      readDurationSeconds("NOTIF_TIMEOUT_SECONDS", 5),
		NotifWebhookURL:   os.Getenv("NOTIF_WEBHOOK_URL"),
		NotifWebhookToken: os.Getenv("NOTIF_WEBHOOK_TOKEN"),
		VAPIDPublicKey:    os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:   os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:      readString("VAPID_SUBJECT", "mailto:ops@foodbridge.local"),
		MQTTBroker:        os.Getenv("MQTT_BROKER"),
		MQTTClientID:      readString("MQTT_CLIENT_ID", "foodbridge-realtime"),
		MQTTTopicPrefix:   readString("MQTT_TOPIC_PREFIX", "foodbridge"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    readInt64("TELEGRAM_CHAT_ID", 0),

		OfflineCacheVersion: readString("OFFLINE_CACHE_VERSION", "v1"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:        readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readList(key, fallback string) []string {
	var out []string
	for _, item := range strings.Split(readString(key, fallback), ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
