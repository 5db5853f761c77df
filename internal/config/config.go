// Package config loads the load-management controller's runtime
// configuration from environment variables plus a `.properties`-style
// file, the way services/mape's config layer does for its zone maps.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds process-wide settings plus the per-device property bag
// read from PropertiesPath.
type AppConfig struct {
	HTTPBind       string
	MQTTBroker     string
	MQTTClientID   string
	KafkaBrokers   []string
	AuditEnabled   bool
	AuditTopicPref string

	PropertiesPath string
	TickInterval   time.Duration

	GridSensorEntity string
	DesiredGridW     float64
	MaxBeforeShedW   float64
	MinBeforeAddW    float64

	// DeviceOrder preserves declaration order from the properties file so
	// devices with equal priority keep a stable tie-break, per the load
	// manager's "ties broken by device list order" rule.
	DeviceOrder []string
	// Devices maps device name -> its flat key/value property bag, e.g.
	// Devices["pool_pump"]["kind"] == "boolean".
	Devices map[string]map[string]string
}

// LoadEnvAndFile reads process settings from the environment and the
// device/threshold properties from PropertiesPath.
func LoadEnvAndFile() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPBind:         getEnv("HTTP_BIND", ":8090"),
		MQTTBroker:       getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "loadmanagerd"),
		KafkaBrokers:     splitAndTrim(os.Getenv("KAFKA_BROKERS"), ","),
		AuditEnabled:     getEnvBool("AUDIT_ENABLED", false),
		AuditTopicPref:   getEnv("AUDIT_TOPIC_PREFIX", "loadmanager.ledger."),
		PropertiesPath:   getEnv("PROPERTIES_PATH", "./configs/loadmanager.properties"),
		TickInterval:     time.Duration(getEnvInt("TICK_INTERVAL_MS", 5000)) * time.Millisecond,
		GridSensorEntity: getEnv("GRID_SENSOR_ENTITY", "sensor.grid_consumption_smoothed"),
	}
	if cfg.AuditEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("AUDIT_ENABLED=true requires KAFKA_BROKERS")
	}
	if err := cfg.loadProperties(cfg.PropertiesPath); err != nil {
		return nil, err
	}
	if !(cfg.MinBeforeAddW < cfg.DesiredGridW && cfg.DesiredGridW < cfg.MaxBeforeShedW) {
		return nil, fmt.Errorf("thresholds must satisfy min_before_add_w < desired_grid_w < max_before_shed_w (got %v < %v < %v)", cfg.MinBeforeAddW, cfg.DesiredGridW, cfg.MaxBeforeShedW)
	}
	return cfg, nil
}

// ReloadProperties re-reads the properties file into c, the way the
// teacher's config layer backs /config/reload. Only c is updated: the
// running load manager and the devices keep the thresholds and options they
// were constructed with until the process restarts.
func (c *AppConfig) ReloadProperties() error {
	return c.loadProperties(c.PropertiesPath)
}

func (c *AppConfig) loadProperties(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open properties file %s: %w", path, err)
	}
	defer f.Close()

	devices := map[string]map[string]string{}
	var order []string
	var desired, maxShed, minAdd float64
	var sawDesired, sawMax, sawMin bool

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)

		switch k {
		case "desired_grid_w":
			desired, sawDesired = parseFloatOr(v, 0), true
		case "max_before_shed_w":
			maxShed, sawMax = parseFloatOr(v, 0), true
		case "min_before_add_w":
			minAdd, sawMin = parseFloatOr(v, 0), true
		default:
			if !strings.HasPrefix(k, "device.") {
				continue
			}
			rest := strings.TrimPrefix(k, "device.")
			name, field, ok := strings.Cut(rest, ".")
			if !ok {
				continue
			}
			if _, exists := devices[name]; !exists {
				devices[name] = map[string]string{}
				order = append(order, name)
			}
			devices[name][field] = v
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if !sawDesired || !sawMax || !sawMin {
		return errors.New("properties must define desired_grid_w, max_before_shed_w, min_before_add_w")
	}

	c.DesiredGridW, c.MaxBeforeShedW, c.MinBeforeAddW = desired, maxShed, minAdd
	c.Devices, c.DeviceOrder = devices, order
	return nil
}

func parseFloatOr(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
