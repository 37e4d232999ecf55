package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Redis (shared document store)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTT device bridge
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Inbound device topics (wildcarded on device id)
	MQTTTopicTelemetry string
	MQTTTopicHeartbeat string
	MQTTTopicStatus    string

	// Outbound command topic pattern
	MQTTTopicCommands string

	// Devices the command relay serves
	DeviceIDs []string

	// ClickHouse reporting archive
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// MQTT
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "shirodhara-backend"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// Device topics
		MQTTTopicTelemetry: getEnv("MQTT_TOPIC_TELEMETRY", "shirodhara/+/telemetry"),
		MQTTTopicHeartbeat: getEnv("MQTT_TOPIC_HEARTBEAT", "shirodhara/+/heartbeat"),
		MQTTTopicStatus:    getEnv("MQTT_TOPIC_STATUS", "shirodhara/+/status"),
		MQTTTopicCommands:  getEnv("MQTT_TOPIC_COMMANDS", "shirodhara/{device_id}/commands"),

		DeviceIDs: getEnvList("DEVICE_IDS", []string{"pi-01"}),

		// ClickHouse
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "shirodhara"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
