package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Payment  PaymentConfig
	Email    EmailConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port          string
	Env           string
	SiteURL       string
	PublicBaseURL string
}

type DatabaseConfig struct {
	URL     string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PrometheusPort string
}

// PaymentConfig holds the payment processor credentials.
type PaymentConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	Currency       string
	Timeout        time.Duration
}

// EmailConfig holds the confirmation email settings. An empty APIKey
// disables delivery; dispatch attempts are then logged and dropped.
type EmailConfig struct {
	APIKey  string
	From    string
	Timeout time.Duration
}

type BusinessConfig struct {
	IdempotencyTTL      time.Duration
	FinalizationLockTTL time.Duration
	ProcessedEventTTL   time.Duration
	MaxWebhookBodyBytes int64
	TicketPathTemplate  string
	ReturnPathTemplate  string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			Env:           getEnv("ENV", "development"),
			SiteURL:       strings.TrimRight(getEnv("SITE_URL", "http://localhost:3000"), "/"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		Database: DatabaseConfig{
			URL:     getEnv("DATABASE_URL", ""),
			Timeout: getSeconds("DB_TIMEOUT_SECONDS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicOrder:    getEnv("KAFKA_TOPIC_ORDER_EVENTS", "checkout-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "notification-service-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		},
		Payment: PaymentConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:       strings.ToLower(getEnv("PAYMENT_CURRENCY", "eur")),
			Timeout:        getSeconds("PAYMENT_TIMEOUT_SECONDS", 10),
		},
		Email: EmailConfig{
			APIKey:  getEnv("RESEND_API_KEY", ""),
			From:    getEnv("FROM_EMAIL", "Tickets <onboarding@resend.dev>"),
			Timeout: getSeconds("EMAIL_TIMEOUT_SECONDS", 10),
		},
		Business: BusinessConfig{
			IdempotencyTTL:      getSeconds("IDEMPOTENCY_TTL_SECONDS", 86400),
			FinalizationLockTTL: getSeconds("FINALIZATION_LOCK_TTL_SECONDS", 30),
			ProcessedEventTTL:   getSeconds("PROCESSED_EVENT_TTL_SECONDS", 7*86400),
			MaxWebhookBodyBytes: 65536,
			TicketPathTemplate:  "/api/v1/tickets?session_id=%s",
			ReturnPathTemplate:  "/pago-ok.html?session_id={CHECKOUT_SESSION_ID}",
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

// Validate checks once, at start-up, that every credential the request
// paths depend on is present.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"DATABASE_URL":           c.Database.URL,
		"STRIPE_SECRET_KEY":      c.Payment.SecretKey,
		"STRIPE_PUBLISHABLE_KEY": c.Payment.PublishableKey,
		"STRIPE_WEBHOOK_SECRET":  c.Payment.WebhookSecret,
	}
	for _, key := range []string{"DATABASE_URL", "STRIPE_SECRET_KEY", "STRIPE_PUBLISHABLE_KEY", "STRIPE_WEBHOOK_SECRET"} {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS must list at least one broker")
	}
	if c.Database.Timeout <= 0 || c.Payment.Timeout <= 0 || c.Email.Timeout <= 0 {
		return errors.New("dependency timeouts must be positive")
	}
	return nil
}

// Warnings lists optional settings whose absence degrades a side channel.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Email.APIKey == "" {
		warnings = append(warnings, "RESEND_API_KEY is not set, confirmation emails are disabled")
	}
	if c.Server.PublicBaseURL == "" {
		warnings = append(warnings, "PUBLIC_BASE_URL is not set, ticket links will be relative")
	}
	return warnings
}

// TicketURL builds the public link to the ticket of a payment session.
func (c *Config) TicketURL(sessionID string) string {
	return c.Server.PublicBaseURL + fmt.Sprintf(c.Business.TicketPathTemplate, sessionID)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getSeconds(key string, defaultVal int) time.Duration {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultVal)))
	if err != nil {
		n = defaultVal
	}
	return time.Duration(n) * time.Second
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
