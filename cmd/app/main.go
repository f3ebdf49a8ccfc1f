package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/swvio"
)

var (
	Version string
	Build   string

	config      = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "Install service in os")
	flagDebug   = flag.Bool("debug", false, "enable debug logging")

	swvService = servicemaker.ServiceMaker{
		User:               "swvio",
		UserGroups:         []string{"gpio", "i2c"},
		ServicePath:        "/etc/systemd/system/swvio.service",
		ServiceDescription: "SwVio service: virtual io signals with led pattern driver. github.com/hubertat/swvio",
		ExecDir:            "/srv/swvio",
		ExecName:           "swvio",
	}
)

func main() {
	flag.Parse()
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("swvio started", "version", Version, "build", Build)

	if *flagInstall {
		err := swvService.InstallService()
		if err != nil {
			log.Fatal("service install failed", "err", err)
		}
		log.Info("service installed!")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sv, err := swvio.LoadConfig(*config)
	if err != nil {
		log.Fatal("can't load config, will terminate", "config", *config, "err", err)
	}

	log.Info("will init swvio driver...")
	err = sv.InitDriver(ctx)
	defer sv.Close()
	if err != nil {
		log.Error("driver init failed", "err", err)
		return
	}

	log.Info("will init swvio registry...")
	err = sv.InitRegistry()
	if err != nil {
		log.Error("registry init failed", "err", err)
		return
	}

	sv.PrintIoStatus(os.Stdout)

	err = sv.Run(ctx, Version)
	if err != nil {
		log.Error("swvio stopped", "err", err)
	}
	log.Info("swvio finished")
}
