// Command loadmanagerd runs the daytime load-management controller: it
// wires configuration, device bindings, the shed/add arbitration loop, and
// the HTTP/metrics/audit surfaces together, the way
// services/mape/cmd/mape/main.go wires its own engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nickw444/da-automation-nk-sub000/internal/audit"
	"github.com/nickw444/da-automation-nk-sub000/internal/breaker"
	"github.com/nickw444/da-automation-nk-sub000/internal/config"
	"github.com/nickw444/da-automation-nk-sub000/internal/device"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/fake"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/guarded"
	"github.com/nickw444/da-automation-nk-sub000/internal/entity/mqttbridge"
	"github.com/nickw444/da-automation-nk-sub000/internal/httpapi"
	"github.com/nickw444/da-automation-nk-sub000/internal/loadmanager"
	"github.com/nickw444/da-automation-nk-sub000/internal/logging"
	"github.com/nickw444/da-automation-nk-sub000/internal/metrics"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "use in-memory fake entities instead of connecting to MQTT")
	logDir := flag.String("log-dir", "./logs", "directory for the controller's log file")
	flag.Parse()

	logger, logFile := logging.Init(*logDir)
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("load-management controller starting", "dry_run", *dryRun)

	cfg, err := config.LoadEnvAndFile()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "devices", len(cfg.Devices), "desired_grid_w", cfg.DesiredGridW)

	var bridge *mqttbridge.Bridge
	if !*dryRun {
		bridge, err = mqttbridge.Connect(cfg.MQTTBroker, cfg.MQTTClientID, logger)
		if err != nil {
			logger.Error("mqtt connect failed", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
	}

	breakerCfg := breaker.Config{MaxFailures: 3, ResetTimeout: 30 * time.Second}
	m := metrics.New()

	toggles := map[string]httpapi.Toggler{}
	devices := make([]device.Device, 0, len(cfg.DeviceOrder))
	for _, name := range cfg.DeviceOrder {
		props := cfg.Devices[name]
		dev, toggler, err := buildDevice(name, props, *dryRun, bridge, breakerCfg, logger)
		if err != nil {
			logger.Error("skipping device with invalid configuration", "device", name, "error", err)
			continue
		}
		devices = append(devices, dev)
		toggles[name] = toggler
	}
	if len(devices) == 0 {
		logger.Warn("no devices configured; the loop will run with nothing to manage")
	}

	var gridSensor entity.Sensor
	if *dryRun {
		fakeGrid := fake.NewSensor()
		fakeGrid.Set(cfg.DesiredGridW)
		gridSensor = fakeGrid
	} else {
		gridSensor = mqttbridge.NewSensor(bridge, cfg.GridSensorEntity)
	}

	var hooks loadmanager.Hooks = m
	var auditPub *audit.Publisher
	if cfg.AuditEnabled {
		auditPub = audit.New(cfg.KafkaBrokers, cfg.AuditTopicPref, logger)
		defer auditPub.Close()
		hooks = fanoutHooks{m, auditPub}
		logger.Info("audit ledger publishing enabled", "topic_prefix", cfg.AuditTopicPref)
	}

	mgr := loadmanager.New(devices, gridSensor, cfg.DesiredGridW, cfg.MaxBeforeShedW, cfg.MinBeforeAddW, cfg.TickInterval, logger, hooks)

	srv := httpapi.NewServer(cfg, logger, mgr, devices, toggles, m)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := srv.Stop(shCtx); err != nil {
		logger.Error("http server graceful stop failed", "error", err)
	}

	cancel()
	mgr.Stop(shCtx)
	logger.Info("load-management controller exited cleanly")
}

// fanoutHooks dispatches every loadmanager.Hooks callback to both the
// metrics registry and the audit ledger publisher.
type fanoutHooks struct {
	metrics *metrics.Metrics
	audit   *audit.Publisher
}

func (f fanoutHooks) TickCompleted(ticks uint64, gridW float64, present bool) {
	f.metrics.TickCompleted(ticks, gridW, present)
	f.audit.TickCompleted(ticks, gridW, present)
}

func (f fanoutHooks) ActionTaken(a loadmanager.Action) {
	f.metrics.ActionTaken(a)
	f.audit.ActionTaken(a)
}

func (f fanoutHooks) ShedBudgetRemaining(w float64) {
	f.metrics.ShedBudgetRemaining(w)
	f.audit.ShedBudgetRemaining(w)
}

// buildDevice constructs one concrete device class from its flat property
// bag (device.<name>.<field> in the properties file). kind selects the
// class; every other field is class-specific with sensible defaults so a
// minimal properties file (just kind + priority) still produces a working
// device against the bridge's naming convention "<name>/state",
// "<name>/cmd", "<name>/<attr>".
func buildDevice(name string, props map[string]string, dryRun bool, bridge *mqttbridge.Bridge, breakerCfg breaker.Config, logger *slog.Logger) (device.Device, httpapi.Toggler, error) {
	priority := propInt(props, "priority", 0)
	kind := props["kind"]

	switch kind {
	case "boolean":
		toggle := device.NewManagementToggle(propBool(props, "management_enabled", true))
		sw := bindBoolean(name, dryRun, bridge, breakerCfg, logger)
		var consumption entity.Sensor
		if propBool(props, "has_consumption_sensor", false) {
			consumption = bindSensor(name+"/power", dryRun, bridge)
		}
		opts := device.BooleanOptions{
			ExpectedConsumptionW: propFloat(props, "expected_consumption_w", 500),
			ChangeTransition:     propDuration(props, "change_transition_ms", 2000),
			TurnOnDebounce:       propDuration(props, "turn_on_debounce_ms", 60000),
			TurnOffDebounce:      propDuration(props, "turn_off_debounce_ms", 60000),
		}
		return device.NewBooleanDevice(name, priority, toggle.Get, sw, consumption, opts), toggle, nil

	case "direct_consumption":
		toggle := device.NewManagementToggle(propBool(props, "management_enabled", true))
		setting := bindNumber(name+"/setting", dryRun, bridge, entity.NumberAttributes{
			Min: 0, Max: propFloat(props, "max_current_a", 32), HasMin: true, HasMax: true,
		}, propFloat(props, "starting_min_current_a", 6), breakerCfg, logger)
		power := bindSensor(name+"/power", dryRun, bridge)
		voltage := bindSensor(name+"/voltage", dryRun, bridge)
		enable := bindBoolean(name+"/enable", dryRun, bridge, breakerCfg, logger)
		canEnable := bindBinarySensor(name+"/can_enable", dryRun, bridge)
		opts := device.DirectConsumptionOptions{
			StartingMinCurrentA: propFloat(props, "starting_min_current_a", 6),
			MaxCurrentA:         propFloat(props, "max_current_a", 32),
			CurrentStepA:        propFloat(props, "current_step_a", 1),
			ChangeTransition:    propDuration(props, "change_transition_ms", 2000),
			Debounce:            propDuration(props, "debounce_ms", 30000),
			StoppingThresholdA:  propFloat(props, "stopping_threshold_a", 1),
			StoppingTimeout:     propDuration(props, "stopping_timeout_ms", 120000),
		}
		return device.NewDirectConsumptionDevice(name, priority, toggle.Get, setting, power, voltage, enable, canEnable, opts), toggle, nil

	case "climate":
		controls := device.NewClimateControls(propFloat(props, "desired_setpoint_c", 22), entity.HVACCool, propBool(props, "management_enabled", true))
		climateEntity := bindClimate(name, dryRun, bridge, breakerCfg, logger)
		consumption := bindSensor(name+"/power", dryRun, bridge)
		opts := device.ClimateOptions{
			MinSetpointC:             propFloat(props, "min_setpoint_c", 18),
			MaxSetpointC:             propFloat(props, "max_setpoint_c", 28),
			SetpointStepC:            propFloat(props, "setpoint_step_c", 1),
			CompressorStartupMinW:    propFloat(props, "compressor_startup_min_w", 600),
			PowerOnSetpointOffsetC:   propFloat(props, "power_on_setpoint_offset_c", 2),
			ConsumptionPerDegreeW:    propFloat(props, "consumption_per_degree_w", 350),
			MaxCompressorW:           propFloat(props, "max_compressor_w", 2500),
			FanOnlyMinW:              propFloat(props, "fan_only_min_w", 50),
			HeatCoolMinW:             propFloat(props, "heat_cool_min_w", 600),
			SetpointChangeTransition: propDuration(props, "setpoint_change_transition_ms", 1000),
			SetpointDebounce:         propDuration(props, "setpoint_debounce_ms", 15000),
			ModeChangeTransition:     propDuration(props, "mode_change_transition_ms", 2000),
			ModeDebounce:             propDuration(props, "mode_debounce_ms", 30000),
			StartupTransition:        propDuration(props, "startup_transition_ms", 3000),
			StartupDebounce:          propDuration(props, "startup_debounce_ms", 60000),
			FanOnlyTimeout:           propDuration(props, "fan_only_timeout_ms", 300000),
		}
		return device.NewClimateDevice(name, priority, climateEntity, consumption, opts, controls), controls, nil

	case "dehumidifier":
		controls := device.NewDehumidifierControls(propFloat(props, "desired_setpoint_pct", 50), propBool(props, "management_enabled", true))
		humidifierEntity := bindHumidifier(name, dryRun, bridge, breakerCfg, logger)
		power := bindSensor(name+"/power", dryRun, bridge)
		humidity := bindSensor(name+"/humidity", dryRun, bridge)
		opts := device.DehumidifierOptions{
			MinSetpointPct:           propFloat(props, "min_setpoint_pct", 30),
			MaxSetpointPct:           propFloat(props, "max_setpoint_pct", 70),
			SetpointStepPct:          propFloat(props, "setpoint_step_pct", 5),
			ExpectedDehumidifyingW:   propFloat(props, "expected_dehumidifying_w", 300),
			ExpectedFanOnlyW:         propFloat(props, "expected_fan_only_w", 50),
			FanOnlyTimeout:           propDuration(props, "fan_only_timeout_ms", 300000),
			SetpointChangeTransition: propDuration(props, "setpoint_change_transition_ms", 1000),
			SetpointDebounce:         propDuration(props, "setpoint_debounce_ms", 15000),
		}
		return device.NewDehumidifierDevice(name, priority, humidifierEntity, power, humidity, opts, controls), controls, nil

	default:
		return nil, nil, fmt.Errorf("unknown device kind %q", kind)
	}
}

func bindBoolean(name string, dryRun bool, bridge *mqttbridge.Bridge, breakerCfg breaker.Config, logger *slog.Logger) entity.Boolean {
	if dryRun {
		return fake.NewBoolean(entity.Off)
	}
	raw := mqttbridge.NewBoolean(bridge, name+"/state", name+"/cmd")
	return guarded.NewBoolean(raw, breaker.New(name, breakerCfg, logger))
}

func bindSensor(topic string, dryRun bool, bridge *mqttbridge.Bridge) entity.Sensor {
	if dryRun {
		return fake.NewSensor()
	}
	return mqttbridge.NewSensor(bridge, topic)
}

func bindBinarySensor(topic string, dryRun bool, bridge *mqttbridge.Bridge) entity.BinarySensor {
	if dryRun {
		return fake.NewBinarySensor()
	}
	return mqttbridge.NewBinarySensor(bridge, topic)
}

func bindNumber(topic string, dryRun bool, bridge *mqttbridge.Bridge, attrs entity.NumberAttributes, initial float64, breakerCfg breaker.Config, logger *slog.Logger) entity.Number {
	if dryRun {
		return fake.NewNumber(initial, attrs)
	}
	raw := mqttbridge.NewNumber(bridge, topic+"/state", topic+"/cmd", attrs)
	return guarded.NewNumber(raw, breaker.New(topic, breakerCfg, logger))
}

func bindClimate(name string, dryRun bool, bridge *mqttbridge.Bridge, breakerCfg breaker.Config, logger *slog.Logger) entity.Climate {
	if dryRun {
		return fake.NewClimate(entity.HVACOff, 24, 24, entity.ClimateAttributes{
			MinTemp: 18, MaxTemp: 28,
			HVACModes: []entity.HVACMode{entity.HVACOff, entity.HVACHeat, entity.HVACCool, entity.HVACFanOnly},
		})
	}
	raw := mqttbridge.NewClimate(bridge, name+"/state", name+"/cmd", entity.ClimateAttributes{
		MinTemp: 18, MaxTemp: 28,
		HVACModes: []entity.HVACMode{entity.HVACOff, entity.HVACHeat, entity.HVACCool, entity.HVACFanOnly},
	})
	return guarded.NewClimate(raw, breaker.New(name, breakerCfg, logger))
}

func bindHumidifier(name string, dryRun bool, bridge *mqttbridge.Bridge, breakerCfg breaker.Config, logger *slog.Logger) entity.Humidifier {
	if dryRun {
		return fake.NewHumidifier(false, entity.HumidifierAttributes{MinHumidity: 30, MaxHumidity: 70})
	}
	raw := mqttbridge.NewHumidifier(bridge, name+"/state", name+"/cmd", entity.HumidifierAttributes{MinHumidity: 30, MaxHumidity: 70})
	return guarded.NewHumidifier(raw, breaker.New(name, breakerCfg, logger))
}

func propFloat(props map[string]string, key string, def float64) float64 {
	if v, ok := props[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func propInt(props map[string]string, key string, def int) int {
	if v, ok := props[key]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func propBool(props map[string]string, key string, def bool) bool {
	if v, ok := props[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func propDuration(props map[string]string, key string, defMillis int64) time.Duration {
	if v, ok := props[key]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(defMillis) * time.Millisecond
}
