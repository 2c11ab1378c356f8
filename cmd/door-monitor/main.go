// Command door-monitor decodes the garage door controller's LED flash codes
// into door states and reports every change.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sweeney/garage-door-monitor/internal/config"
	"github.com/sweeney/garage-door-monitor/internal/gpio"
	"github.com/sweeney/garage-door-monitor/internal/logic"
	"github.com/sweeney/garage-door-monitor/internal/monitor"
	"github.com/sweeney/garage-door-monitor/internal/mqtt"
	"github.com/sweeney/garage-door-monitor/internal/status"
	"github.com/sweeney/garage-door-monitor/internal/statusfile"
	"github.com/sweeney/garage-door-monitor/internal/thermo"
	"github.com/sweeney/garage-door-monitor/internal/web"
)

// temperatureInterval is how often the thermometer is sampled for the
// status page. A DS18B20 conversion takes most of a second.
const temperatureInterval = time.Minute

func main() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, printState, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		logrus.Fatalf("fatal: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("fatal: %v", errors.Wrap(err, "log_level"))
	}
	logrus.SetLevel(level)

	if err := run(cfg, printState); err != nil {
		logrus.Fatalf("fatal: %v", err)
	}
}

// newFlagSet binds every command-line flag to a field of cfg, using the
// field's current value as the default.
func newFlagSet(cfg *config.Config) (fs *flag.FlagSet, configPath *string, printState *bool) {
	fs = flag.NewFlagSet("door-monitor", flag.ContinueOnError)
	configPath = fs.String("config", "", "YAML config file (flags given on the command line override it)")
	printState = fs.Bool("print-state", false, "Print the current LED color and exit")

	fs.StringVar(&cfg.Chip, "chip", cfg.Chip, "GPIO chip")
	fs.IntVar(&cfg.Pins.Open, "pin-open", cfg.Pins.Open, "BCM line of the open (green) LED")
	fs.IntVar(&cfg.Pins.Close, "pin-close", cfg.Pins.Close, "BCM line of the close (red) LED")
	fs.IntVar(&cfg.Pins.RelayOpen, "pin-relay-open", cfg.Pins.RelayOpen, "BCM line of the T15 open relay")
	fs.IntVar(&cfg.Pins.RelayClose, "pin-relay-close", cfg.Pins.RelayClose, "BCM line of the T13 close relay")
	fs.DurationVar(&cfg.Settle, "settle", cfg.Settle, "Delay between an edge and sampling the lines")
	fs.DurationVar(&cfg.Poll, "poll", cfg.Poll, "State evaluation interval")
	fs.DurationVar(&cfg.StartupDelay, "startup-delay", cfg.StartupDelay, "Delay before the initial capture (negative to disable)")
	fs.StringVar(&cfg.StatusFile, "status-file", cfg.StatusFile, "Status file path (empty to disable)")
	fs.BoolVar(&cfg.IgnoreErrors, "ignore-errors", cfg.IgnoreErrors, "Report STOPPED as CLOSED")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&cfg.MQTT.Broker, "broker", cfg.MQTT.Broker, "MQTT broker address (empty to disable)")
	fs.StringVar(&cfg.MQTT.ClientID, "client-id", cfg.MQTT.ClientID, "MQTT client ID")
	fs.StringVar(&cfg.HTTP.Addr, "http", cfg.HTTP.Addr, "HTTP status address (empty to disable)")
	fs.Float64Var(&cfg.HTTP.RateLimit, "http-rate", cfg.HTTP.RateLimit, "HTTP requests per second per client")
	fs.IntVar(&cfg.HTTP.Burst, "http-burst", cfg.HTTP.Burst, "HTTP request burst per client")
	fs.StringVar(&cfg.Thermometer.Path, "w1-bus", cfg.Thermometer.Path, "1-wire bus master directory (empty to disable the thermometer)")
	fs.StringVar(&cfg.Thermometer.Serial, "thermometer", cfg.Thermometer.Serial, "DS18B20 serial (empty to use the first on the bus)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	return fs, configPath, printState
}

// parseFlags builds the configuration from defaults, the optional -config
// file and finally the command-line flags.
func parseFlags(args []string) (config.Config, bool, error) {
	cfg := config.Default()
	fs, configPath, printState := newFlagSet(&cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if *configPath == "" {
		return cfg, *printState, cfg.Validate()
	}

	fileCfg, err := config.Load(*configPath)
	if err != nil {
		return fileCfg, false, err
	}

	// Parse again on top of the file so explicit flags win.
	over, _, _ := newFlagSet(&fileCfg)
	over.SetOutput(io.Discard)
	if err := over.Parse(args); err != nil {
		return fileCfg, false, err
	}
	return fileCfg, *printState, fileCfg.Validate()
}

func run(cfg config.Config, printState bool) error {
	reader, err := gpio.NewRealReader(cfg.GPIOPins())
	if err != nil {
		return errors.Wrap(err, "init gpio")
	}
	defer reader.Close()

	// Registered before any slow setup; a signal from here on must reach
	// the deferred reader.Close that releases the relays.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if printState {
		openHigh, closeHigh, err := reader.Read()
		if err != nil {
			return errors.Wrap(err, "read gpio")
		}
		color := logic.DecodeColor(openHigh, closeHigh)
		fmt.Printf("LED: %s, steady: %s\n", color, logic.SteadyState(color).Token())
		return nil
	}

	return serve(cfg, reader, sigCh, os.Stdout)
}

// serve runs the daemon on an open reader until a signal arrives on sig or
// capturing fails. Tokens are written to out.
func serve(cfg config.Config, reader gpio.Reader, sig <-chan os.Signal, out io.Writer) error {
	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return errors.Wrap(err, "init mqtt")
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	var sfile *statusfile.Writer
	if cfg.StatusFile != "" {
		sfile = statusfile.New(cfg.StatusFile)
	}

	startTime := time.Now()
	tracker := status.NewTracker(startTime, status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		SettleMs:    cfg.Settle.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		StatusFile:  cfg.StatusFile,
		PinOpen:     cfg.Pins.Open,
		PinClose:    cfg.Pins.Close,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sensor := openThermometer(cfg.Thermometer); sensor != nil {
		readTemperature(sensor, tracker)
		go watchTemperature(ctx, sensor, tracker, temperatureInterval)
	}

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			logrus.WithError(err).Warn("Failed to publish startup event")
		} else {
			logrus.Info("Published startup event")
		}
	}

	if cfg.HTTP.Addr != "" {
		limiter := web.NewIPRateLimiter(rate.Limit(cfg.HTTP.RateLimit), cfg.HTTP.Burst)
		srv := web.New(cfg.HTTP.Addr, tracker, limiter)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("HTTP server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		logrus.WithField("addr", cfg.HTTP.Addr).Info("HTTP status server listening")
	}

	mon := monitor.New(reader, cfg.Settle)
	failed := make(chan error, 1)
	go func() {
		if err := mon.Run(ctx, cfg.StartupDelay); err != nil {
			failed <- err
		}
	}()

	logrus.WithFields(logrus.Fields{
		"chip":          cfg.Chip,
		"pin_open":      cfg.Pins.Open,
		"pin_close":     cfg.Pins.Close,
		"settle":        cfg.Settle,
		"poll":          cfg.Poll,
		"broker":        cfg.MQTT.Broker,
		"heartbeat":     cfg.Heartbeat,
		"ignore_errors": cfg.IgnoreErrors,
	}).Info("Started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	l := &loop{
		monitor:    mon,
		ready:      mon.Ready(),
		reporter:   logic.NewReporter(startTime, cfg.IgnoreErrors),
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		statusFile: sfile,
		out:        out,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
	}
	return l.run(ticker.C, sig, failed)
}

// loop is the reporter: it evaluates the door state on every tick and after
// every capture, and fans changes out to the sinks. Optional sinks are nil.
// Nothing is evaluated until ready is closed; a nil ready starts at once.
type loop struct {
	monitor    *monitor.Monitor
	ready      <-chan struct{}
	reporter   *logic.Reporter
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	statusFile *statusfile.Writer
	out        io.Writer
	heartbeat  time.Duration
	now        func() time.Time
}

func (l *loop) run(tick <-chan time.Time, sig <-chan os.Signal, failed <-chan error) error {
	var (
		ticks    <-chan time.Time
		captured <-chan struct{}
	)
	ready := l.ready
	if ready == nil {
		ticks, captured = tick, l.monitor.Captured()
	}

	for {
		select {
		case <-ready:
			// An empty window before the startup capture would read as
			// NO_INPUT, so evaluation waits for it.
			ready = nil
			ticks, captured = tick, l.monitor.Captured()
			logrus.Debug("Startup capture done, evaluating")

		case s := <-sig:
			logrus.WithField("signal", s).Info("Shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.publishShutdown(signalName)
			return nil

		case err := <-failed:
			l.publishShutdown("GPIO_ERROR")
			return err

		case <-ticks:
			l.evaluate()

		case <-captured:
			l.evaluate()
		}
	}
}

func (l *loop) evaluate() {
	t := l.now()
	state := l.monitor.DetermineState(t)
	if event, ok := l.reporter.Observe(state, t); ok {
		l.emit(event)
	}

	if hb := l.reporter.CheckHeartbeat(t, l.heartbeat, l.monitor.Counts()); hb != nil {
		l.publishHeartbeat(hb)
	}

	if l.tracker != nil {
		newest, ok := l.monitor.Newest()
		l.tracker.Update(newest, ok, l.counts())
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
	}
}

func (l *loop) counts() logic.Counts {
	c := l.monitor.Counts()
	c.Changes = l.reporter.Changes()
	return c
}

func (l *loop) emit(event logic.Event) {
	fields := logrus.Fields{"state": event.State, "token": event.Token}
	if !event.First {
		fields["previous"] = event.Previous
	}
	logrus.WithFields(fields).Info("Door state changed")

	if _, err := fmt.Fprintln(l.out, event.Token); err != nil {
		logrus.WithError(err).Warn("Failed to write state to stdout")
	}
	if l.statusFile != nil {
		if err := l.statusFile.Write(event.Token); err != nil {
			logrus.WithError(err).WithField("path", l.statusFile.Path()).Warn("Failed to write status file")
		}
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(event); err != nil {
			logrus.WithError(err).Warn("Failed to publish door event")
		}
	}
	if l.tracker != nil {
		l.tracker.Report(event)
	}
}

func (l *loop) publishHeartbeat(hb *logic.HeartbeatData) {
	logrus.WithFields(logrus.Fields{
		"uptime":   hb.Uptime,
		"captures": hb.Counts.Captures,
		"dropped":  hb.Counts.Dropped,
		"changes":  hb.Counts.Changes,
	}).Info("Heartbeat")

	if l.publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
	}
	if l.tracker != nil {
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		newest, ok := l.monitor.Newest()
		l.tracker.Update(newest, ok, hb.Counts)
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		logrus.WithError(err).Warn("Failed to publish heartbeat")
	}
}

func (l *loop) publishShutdown(reason string) {
	if l.publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		logrus.WithError(err).Warn("Failed to publish shutdown event")
	} else {
		logrus.Info("Published shutdown event")
	}
}

// openThermometer returns the configured sensor, or nil when there is none.
func openThermometer(cfg config.ThermometerConfig) *thermo.Sensor {
	if cfg.Path == "" {
		return nil
	}
	if cfg.Serial != "" {
		return thermo.New(cfg.Path, cfg.Serial)
	}
	sensor, err := thermo.Discover(cfg.Path)
	if err != nil {
		if errors.Cause(err) != thermo.ErrNoSensor {
			logrus.WithError(err).Warn("Thermometer discovery failed")
		}
		return nil
	}
	logrus.WithField("serial", sensor.Serial).Info("Found thermometer")
	return sensor
}

func readTemperature(sensor *thermo.Sensor, tracker *status.Tracker) {
	celsius, err := sensor.Read()
	if err != nil {
		logrus.WithError(err).WithField("serial", sensor.Serial).Debug("Thermometer read failed")
		tracker.SetTemperature(nil)
		return
	}
	tracker.SetTemperature(&celsius)
}

func watchTemperature(ctx context.Context, sensor *thermo.Sensor, tracker *status.Tracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			readTemperature(sensor, tracker)
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
