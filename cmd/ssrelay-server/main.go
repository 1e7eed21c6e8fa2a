package main

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/ssrelay/internal/cipher"
	"github.com/xtaci/ssrelay/internal/metrics"
	"github.com/xtaci/ssrelay/internal/multihost"
	"github.com/xtaci/ssrelay/internal/relay"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "ssrelay-server"
	app.Usage = "encrypted TCP relay server"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Value: "0.0.0.0:8388",
			Usage: `bind address, e.g. "0.0.0.0:8388" or "10.0.0.1,10.0.0.2:8388" for multiple hosts on one shared port`,
		},
		cli.StringFlag{
			Name:   "password, k",
			Usage:  "pre-shared secret between client and server",
			EnvVar: "SSRELAY_PASSWORD",
		},
		cli.StringFlag{
			Name:  "method, m",
			Value: "rc4",
			Usage: "rc4, chacha20, salsa20, qpp, none",
		},
		cli.IntFlag{
			Name:  "timeout, t",
			Value: 60,
			Usage: "upstream connect timeout in seconds",
		},
		cli.StringFlag{
			Name:  "pidfile",
			Value: "",
			Usage: "write the server's PID to this path",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "accepted for config compatibility; has no effect, the relay logs no debug-level lines",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress startup/shutdown banner lines, errors still log",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Value: "",
			Usage: "collect open-connection counters to a CSV file, aware of time formatting like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "snmp collect period, in seconds",
		},
		cli.IntFlag{
			Name:  "closewait",
			Value: 30,
			Usage: "seconds to let in-flight connections drain on shutdown before forcing them closed (0 = wait indefinitely)",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from a JSON file, which overrides flags from the shell",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	config := Config{
		Listen:     c.String("listen"),
		Password:   c.String("password"),
		Method:     c.String("method"),
		Timeout:    c.Int("timeout"),
		PidFile:    c.String("pidfile"),
		Log:        c.String("log"),
		Verbose:    c.Bool("verbose"),
		Quiet:      c.Bool("quiet"),
		SnmpLog:    c.String("snmplog"),
		SnmpPeriod: c.Int("snmpperiod"),
		CloseWait:  c.Int("closewait"),
	}

	if path := c.String("c"); path != "" {
		if err := parseJSONConfig(&config, path); err != nil {
			return errors.Wrap(err, "reading -c config file")
		}
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "opening -log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if config.Password == "" {
		return errors.New("password is required (-password or SSRELAY_PASSWORD)")
	}
	if len(config.Password) < 8 {
		color.Yellow("warning: password is shorter than 8 bytes, consider a longer shared secret")
	}

	if !config.Quiet {
		log.Println("version:", VERSION)
		log.Println("listening on:", config.Listen)
		log.Println("method:", config.Method)
		log.Println("connect timeout:", config.Timeout, "seconds")
	}

	factory, effectiveMethod, err := cipher.NewFactory(config.Password, config.Method)
	if err != nil {
		return errors.Wrap(err, "building cipher factory")
	}
	if effectiveMethod != config.Method {
		color.Yellow("warning: cipher method %q not recognized, falling back to %q", config.Method, effectiveMethod)
	}

	addrs, err := multihost.Parse(config.Listen)
	if err != nil {
		return errors.Wrap(err, "parsing -listen")
	}

	counters := &metrics.Counters{}
	go metrics.Logger(counters, config.SnmpLog, time.Duration(config.SnmpPeriod)*time.Second)

	timeout := time.Duration(config.Timeout) * time.Second

	var listeners []*relay.Listener
	for _, addr := range addrs {
		ln, err := relay.Listen(addr, timeout, factory, counters)
		if err != nil {
			return errors.Wrapf(err, "binding %s", addr)
		}
		listeners = append(listeners, ln)
		if !config.Quiet {
			log.Println("bound:", ln.Addr())
		}
	}

	if config.PidFile != "" {
		if err := writePidFile(config.PidFile); err != nil {
			return errors.Wrap(err, "writing -pidfile")
		}
		defer os.Remove(config.PidFile)
	}

	var wg sync.WaitGroup
	for _, ln := range listeners {
		wg.Add(1)
		go func(ln *relay.Listener) {
			defer wg.Done()
			if err := ln.Serve(); err != nil {
				log.Printf("serve %s: %+v", ln.Addr(), err)
			}
		}(ln)
	}

	drained := make(chan struct{})
	installSignalHandlers(counters, func() {
		defer close(drained)
		if !config.Quiet {
			log.Println("shutting down: closing listeners")
		}
		for _, ln := range listeners {
			ln.Close()
		}
		closeWait := time.Duration(config.CloseWait) * time.Second
		for _, ln := range listeners {
			ln.DrainTimeout(closeWait)
		}
	})

	wg.Wait()
	// Serve only returns once shutdown has closed the listeners; wait for
	// shutdown's drain to finish before exiting.
	<-drained
	if !config.Quiet {
		log.Println("all listeners stopped")
	}
	return nil
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
