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
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	JWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers      []string
	NotificationTopic string

	WarehouseURL          string
	WarehouseDefaultID    string
	WarehouseReadTimeout  time.Duration
	WarehouseWriteTimeout time.Duration
	StockCacheTTL         time.Duration

	// VATRate is the jurisdiction tax multiplier applied to the order subtotal.
	VATRate                float64
	// ShippingCost is the flat delivery charge added to every order.
	ShippingCost           float64
	ReservationConcurrency int

	PaymentCallbackToken string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    getenv("APP_PORT", "8080"),
		AppEnv:     os.Getenv("APP_ENV"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		KafkaBrokers:      splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
		NotificationTopic: getenv("NOTIFICATION_TOPIC", "order.notifications"),

		WarehouseURL:          getenv("WAREHOUSE_URL", "http://warehouse-service:3201"),
		WarehouseDefaultID:    os.Getenv("WAREHOUSE_DEFAULT_ID"),
		WarehouseReadTimeout:  getenvDuration("WAREHOUSE_READ_TIMEOUT", 5*time.Second),
		WarehouseWriteTimeout: getenvDuration("WAREHOUSE_WRITE_TIMEOUT", 15*time.Second),
		StockCacheTTL:         getenvDuration("STOCK_CACHE_TTL", 300*time.Second),

		VATRate:                getenvFloat("VAT_RATE", 0.21),
		ShippingCost:           getenvFloat("SHIPPING_COST", 0),
		ReservationConcurrency: getenvInt("RESERVATION_CONCURRENCY", 4),

		PaymentCallbackToken: os.Getenv("PAYMENT_CALLBACK_TOKEN"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return f
}

// getenvDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("invalid %s=%q, using default %s", key, v, def)
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
