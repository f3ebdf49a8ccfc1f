// Package swvio wires a signal registry to a pin driver, the LED pattern
// driver and the optional MQTT, HTTP, HomeKit and InfluxDB services.
package swvio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/swvio/drivers"
	"github.com/hubertat/swvio/homekit"
	"github.com/hubertat/swvio/httpapi"
	"github.com/hubertat/swvio/mqtt"
	"github.com/hubertat/swvio/telemetry"
	"github.com/hubertat/swvio/vio"
)

const defaultName = "swvio"
const defaultMqttPrefix = "swvio"
const mqttDisconnectTimeout = 2 * time.Second

type SwVio struct {
	Name string

	// Board selects a predefined board, Bindings replace its bindings.
	Board      string
	Bindings   []vio.Binding
	DriverName string

	ValueCount   int
	BlinkPeriod  vio.Duration
	BlinkPattern []vio.Mask
	HoldOnButton bool

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string
	MqttPrefix string

	HttpAddr      string
	HttpToken     string
	HttpTokenHash string

	Influx *telemetry.InfluxSink

	Gpio       *drivers.GpIO
	Mcp23017   *drivers.McpIO
	Periph     *drivers.PeriphIO
	Gpiod      *drivers.GpiodIO
	Remote     *drivers.RemoteIO
	FakeDriver *drivers.MockIoDriver

	board      vio.Board
	driver     drivers.PinDriver
	registry   *vio.Registry
	blinky     *vio.Blinky
	mqttClient *mqtt.MqttClient
	bridge     *SignalBridge
	logger     *log.Logger
}

// ParseConfig reads a JSON configuration.
func ParseConfig(r io.Reader) (*SwVio, error) {
	cBuff, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading config")
	}

	sv := &SwVio{}
	err = json.Unmarshal(cBuff, sv)
	if err != nil {
		return nil, errors.Wrap(err, "failed unmarshalling json config")
	}
	return sv, nil
}

func LoadConfig(path string) (*SwVio, error) {
	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open config file %s", path)
	}
	defer configFile.Close()

	return ParseConfig(configFile)
}

func (sv *SwVio) getLogger() *log.Logger {
	if sv.logger == nil {
		sv.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "swvio",
			Level:  log.GetLevel(),
		})
	}
	return sv.logger
}

func (sv *SwVio) name() string {
	if len(sv.Name) > 0 {
		return sv.Name
	}
	return defaultName
}

// ResolveBoard picks the configured board, applying custom bindings and the
// driver override.
func (sv *SwVio) ResolveBoard() (board vio.Board, err error) {
	if len(sv.Bindings) > 0 {
		board = vio.Board{
			Name:       sv.Board,
			DriverName: sv.DriverName,
			Bindings:   sv.Bindings,
		}
		if len(board.Name) == 0 {
			board.Name = "custom"
		}
	} else {
		board, err = vio.BoardByName(sv.Board)
		if err != nil {
			return
		}
	}

	if len(sv.DriverName) > 0 {
		board.DriverName = sv.DriverName
	}
	if len(board.DriverName) == 0 {
		err = errors.Errorf("no driver selected for board %s", board.Name)
	}
	return
}

func (sv *SwVio) configuredDrivers() map[string]drivers.PinDriver {
	configured := make(map[string]drivers.PinDriver)

	if sv.Gpio != nil {
		configured[sv.Gpio.String()] = sv.Gpio
	}
	if sv.Mcp23017 != nil {
		configured[sv.Mcp23017.String()] = sv.Mcp23017
	}
	if sv.Periph != nil {
		configured[sv.Periph.String()] = sv.Periph
	}
	if sv.Gpiod != nil {
		configured[sv.Gpiod.String()] = sv.Gpiod
	}
	if sv.Remote != nil {
		configured[sv.Remote.String()] = sv.Remote
	}
	if sv.FakeDriver != nil {
		configured[sv.FakeDriver.String()] = sv.FakeDriver
	}

	return configured
}

// InitDriver sets up the driver the board needs. A driver without its own
// config section starts with default settings.
func (sv *SwVio) InitDriver(ctx context.Context) (err error) {
	sv.board, err = sv.ResolveBoard()
	if err != nil {
		return
	}

	name := strings.ToLower(sv.board.DriverName)
	driver, found := sv.configuredDrivers()[name]
	if !found {
		driver, found = drivers.MapAllPinDrivers()[name]
		if !found {
			return errors.Errorf("unknown driver %s", sv.board.DriverName)
		}
		sv.getLogger().Info("driver not configured, using defaults", "driver", name)
	}

	err = driver.Setup(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to setup %s driver", driver)
	}

	sv.driver = driver
	return nil
}

func (sv *SwVio) InitRegistry() (err error) {
	if sv.driver == nil {
		return drivers.ErrNotReady
	}

	opts := []vio.Option{}
	if sv.ValueCount > 0 {
		opts = append(opts, vio.WithValueCount(sv.ValueCount))
	}

	sv.registry, err = vio.NewRegistry(sv.driver, sv.board.Bindings, opts...)
	if err != nil {
		return errors.Wrapf(err, "invalid bindings for board %s", sv.board.Name)
	}

	err = sv.registry.Initialize()
	if err != nil {
		return errors.Wrap(err, "failed to initialize registry")
	}

	sv.blinky = vio.NewBlinky(sv.registry, sv.registry.OutputMask())
	if sv.BlinkPeriod > 0 {
		sv.blinky.Period = time.Duration(sv.BlinkPeriod)
	}
	if len(sv.BlinkPattern) > 0 {
		sv.blinky.Patterns = sv.BlinkPattern
	}
	if sv.HoldOnButton {
		sv.blinky.HoldMask = sv.registry.InputMask() & vio.Button0
	}
	return nil
}

func (sv *SwVio) Registry() *vio.Registry {
	return sv.registry
}

func (sv *SwVio) Blinky() *vio.Blinky {
	return sv.blinky
}

func (sv *SwVio) Driver() drivers.PinDriver {
	return sv.driver
}

// InitMqtt connects to MqttBroker and bridges the registry onto it.
func (sv *SwVio) InitMqtt() (err error) {
	if len(sv.MqttBroker) == 0 {
		return errors.New("mqtt broker not set")
	}
	if sv.registry == nil {
		return errors.New("registry not initialized")
	}

	mc, err := mqtt.NewMqttClient(sv.MqttBroker, sv.name())
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt client")
	}
	sv.mqttClient = mc

	prefix := sv.MqttPrefix
	if len(prefix) == 0 {
		prefix = defaultMqttPrefix
	}
	bridge := NewSignalBridge(prefix, sv.registry, mc)

	err = mc.Connect(bridge.Handlers())
	if err != nil {
		return errors.Wrap(err, "failed to connect to mqtt broker")
	}

	sv.bridge = bridge
	sv.registry.Subscribe(bridge)
	return nil
}

// Run starts the pattern driver and every configured service, then blocks
// until ctx is done and all of them have returned.
func (sv *SwVio) Run(ctx context.Context, firmwareVersion string) error {
	if sv.registry == nil || sv.blinky == nil {
		return errors.New("registry not initialized")
	}

	sched := vio.NewTickerScheduler()

	sched.Go(ctx, "blinky", func(ctx context.Context) error {
		return sv.blinky.Run(ctx, sched)
	})

	if len(sv.MqttBroker) > 0 {
		err := sv.InitMqtt()
		if err != nil {
			sv.getLogger().Error("mqtt disabled", "err", err)
		} else {
			sched.Go(ctx, "mqtt", sv.bridge.Run)
		}
	} else {
		sv.getLogger().Info("mqtt not configured, disabled")
	}

	if len(sv.HttpAddr) > 0 {
		server := httpapi.NewServer(sv.HttpAddr, sv.registry)
		server.Token = sv.HttpToken
		server.TokenHash = sv.HttpTokenHash
		sched.Go(ctx, "http", server.ListenAndServe)
	}

	if len(sv.HkPin) == 8 {
		bridge := homekit.NewBridge(sv.registry)
		bridge.Name = sv.name()
		bridge.Pin = sv.HkPin
		bridge.Directory = sv.HkDirectory
		bridge.Address = sv.HkAddress
		bridge.Debug = sv.HkDebug
		sched.Go(ctx, "homekit", func(ctx context.Context) error {
			return bridge.ListenAndServe(ctx, firmwareVersion)
		})
	} else {
		sv.getLogger().Info("HomeKit not configured, disabled")
	}

	if sv.Influx != nil {
		if len(sv.Influx.Board) == 0 {
			sv.Influx.Board = sv.board.Name
		}
		err := sv.Influx.Setup()
		if err != nil {
			sv.getLogger().Error("influx disabled", "err", err)
		} else {
			sched.Go(ctx, "influx", func(ctx context.Context) error {
				return sv.Influx.Run(ctx, sched, sv.registry)
			})
		}
	}

	<-ctx.Done()
	sched.Wait()
	return nil
}

// Close releases the outputs first so MQTT and HomeKit see them off, then
// disconnects and closes the driver.
func (sv *SwVio) Close() (err error) {
	if sv.registry != nil {
		err = sv.registry.Uninitialize()
		sv.registry = nil
	}

	if sv.bridge != nil {
		sv.bridge.Flush()
		sv.bridge = nil
	}

	if sv.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mqttDisconnectTimeout)
		defer cancel()
		mqttErr := sv.mqttClient.Disconnect(ctx)
		if mqttErr != nil {
			sv.getLogger().Warn("mqtt disconnect failed", "err", mqttErr)
		}
		sv.mqttClient = nil
	}

	if sv.driver != nil {
		closeErr := sv.driver.Close()
		if closeErr != nil {
			if err == nil {
				err = closeErr
			} else {
				err = errors.Wrap(err, closeErr.Error())
			}
		}
		sv.driver = nil
	}

	return
}

func sortPinAddrs(addrs []drivers.PinAddr) {
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Port != addrs[j].Port {
			return addrs[i].Port < addrs[j].Port
		}
		return addrs[i].Pin < addrs[j].Pin
	})
}

func (sv *SwVio) PrintIoStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== active io driver ===")
	if sv.driver == nil {
		fmt.Fprintln(writer, "| none")
		fmt.Fprintln(writer, "-----------------------------")
		return
	}

	fmt.Fprintln(writer, "________")
	fmt.Fprintf(writer, "| driver: %s\n", sv.driver)
	fmt.Fprintf(writer, "| board: %s\n", sv.board.Name)

	inputs, outputs := sv.driver.GetAllIo()
	sortPinAddrs(inputs)
	sortPinAddrs(outputs)
	fmt.Fprintf(writer, "| in pins: ")
	for _, inpin := range inputs {
		fmt.Fprintf(writer, "%d.%d, ", inpin.Port, inpin.Pin)
	}
	fmt.Fprintf(writer, "\n| out pins: ")
	for _, outpin := range outputs {
		fmt.Fprintf(writer, "%d.%d, ", outpin.Port, outpin.Pin)
	}
	fmt.Fprintln(writer)

	if sv.registry != nil {
		fmt.Fprintln(writer, "| bindings:")
		for _, b := range sv.registry.Bindings() {
			fmt.Fprintf(writer, "|   %s %s bit %d\n", b.Direction, b, b.Signal)
		}
	}
	fmt.Fprintln(writer, "--------")
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}
