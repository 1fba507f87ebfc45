package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"chainctl/api"
	"chainctl/config"
	"chainctl/device"
	"chainctl/device/devhdr"
	"chainctl/log"
	"chainctl/system"
	"chainctl/version"
)

func main() {
	cfgFile := flag.String("config", config.DefaultConfigFile, "daemon configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *debug || cfg.Debug {
		log.SetDebug(true)
	}
	if cfg.ChassisDir != "" {
		devhdr.ConfigDir = cfg.ChassisDir
	}

	log.Infof("=============== chainctl %s start ===============", version.Version)

	if err := devhdr.ReadChassisConfiguration(); err != nil {
		log.Errorf("Failed to read chassis configuration: %v", err)
		os.Exit(1)
	}

	sysinfo, err := system.GetSystemInfo()
	if err != nil {
		log.Infof("Failed to read system information %v", err)
	} else {
		log.Infof("Chassis %s serial %s, %s",
			sysinfo.ControlBoardInfo.ChassisModelNumber,
			sysinfo.ControlBoardInfo.ChassisSerialNumber,
			sysinfo.KernelVersion)
	}

	mgr := device.NewDeviceManager(cfg)
	mgr.Init()

	apiSrv := api.New(mgr)
	listen := cfg.APIListen
	if listen == "" {
		listen = config.DefaultAPIListen
	}
	if err := apiSrv.Start(listen); err != nil {
		log.Errorf("Failed to start API on %s: %v", listen, err)
		mgr.Fini()
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Infof("Caught signal %v", s)
	case <-apiSrv.QuitRequested():
		log.Info("Shutdown requested over the API")
	}

	apiSrv.Stop()
	mgr.Fini()

	log.Info("=============== chainctl stop ===============")
	os.Exit(0)
}
