// Package homekit publishes the output signals of a registry as HomeKit
// lightbulbs.
package homekit

import (
	"context"
	"hash/fnv"
	"os"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/swvio/vio"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "swvio"
const homeKitBridgeAuthor = "github.com/hubertat"

type Registry interface {
	SetOutputSignal(mask, levels vio.Mask) vio.Mask
	OutputShadow() vio.Mask
	Subscribe(l vio.OutputListener)
	Bindings() []vio.Binding
}

type Bridge struct {
	Name      string
	Pin       string
	Directory string
	Address   string
	Debug     bool

	registry Registry
	lights   map[vio.Signal]*accessory.Lightbulb
	logger   *log.Logger
}

func NewBridge(registry Registry) *Bridge {
	return &Bridge{
		registry: registry,
		lights:   make(map[vio.Signal]*accessory.Lightbulb),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "homekit",
			Level:  log.GetLevel(),
		}),
	}
}

func uniqueId(name string) uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Light_" + name))
	return hash.Sum64()
}

// Accessories builds one lightbulb per output binding and subscribes to the
// registry so the bulbs follow every output write.
func (br *Bridge) Accessories() []*accessory.A {
	acc := []*accessory.A{}
	shadow := br.registry.OutputShadow()

	for _, b := range br.registry.Bindings() {
		if b.Direction != vio.Output {
			continue
		}
		mask := b.Signal.Mask()

		light := accessory.NewLightbulb(accessory.Info{
			Name:         b.String(),
			Manufacturer: homeKitBridgeAuthor,
		})
		light.Id = uniqueId(b.String())
		light.Lightbulb.On.SetValue(shadow.Has(mask))
		light.Lightbulb.On.OnValueRemoteUpdate(func(on bool) {
			levels := vio.Mask(0)
			if on {
				levels = mask
			}
			br.logger.Debug("remote update", "signal", mask, "on", on)
			br.registry.SetOutputSignal(mask, levels)
		})

		br.lights[b.Signal] = light
		acc = append(acc, light.A)
	}

	br.registry.Subscribe(vio.OutputListenerFunc(br.OutputChanged))
	return acc
}

// OutputChanged mirrors written output bits into the lightbulbs.
func (br *Bridge) OutputChanged(mask, shadow vio.Mask) {
	for signal, light := range br.lights {
		if mask.Has(signal.Mask()) {
			light.Lightbulb.On.SetValue(shadow.Has(signal.Mask()))
		}
	}
}

func (br *Bridge) ListenAndServe(ctx context.Context, firmwareVersion string) error {
	name := br.Name
	if len(name) < 1 {
		name = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         name,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	dir := br.Directory
	if len(dir) < 1 {
		dir = defaultHomeKitDirectory
	}
	server, err := hap.NewServer(hap.NewFsStore(dir), bridge.A, br.Accessories()...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	server.Pin = br.Pin
	if len(br.Address) > 0 {
		server.Addr = br.Address
	}

	if br.Debug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	br.logger.Info("starting HomeKit bridge", "name", name, "lights", len(br.lights))
	return server.ListenAndServe(ctx)
}
