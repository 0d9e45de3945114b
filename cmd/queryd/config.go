// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/JoBangelz/libbitcoin-server/qserver"
)

const (
	defaultConfigFilename = "queryd.conf"
	defaultLogFilename    = "queryd.log"
	defaultLogLevel       = "info"
	defaultPublicListen   = ":9091"
)

var (
	defaultHomeDir    = btcutil.AppDataDir("queryd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, "logs")
)

// config defines the configuration options for queryd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion       bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile        string        `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir            string        `long:"logdir" description:"Directory to log output"`
	DebugLevel        string        `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	PublicListen      string        `long:"listen" description:"Bind address of the public query endpoint"`
	SecureListen      string        `long:"securelisten" description:"Bind address of the authenticated query endpoint"`
	Cert              string        `long:"cert" description:"File containing the server TLS certificate"`
	Key               string        `long:"key" description:"File containing the server TLS key"`
	ClientKeys        []string      `long:"clientkey" description:"Allowed client public key fingerprint (hex sha256); may be repeated"`
	SubscriptionTTL   time.Duration `long:"subttl" description:"Address subscription lifetime without renewal"`
	SubscriptionLimit int           `long:"sublimit" description:"Maximum number of address subscriptions"`
	Workers           int           `long:"workers" description:"Number of query dispatch workers (default: CPU count)"`
	QueryTimeout      time.Duration `long:"querytimeout" description:"Per-reply socket write timeout"`
	NotifyRollbacks   bool          `long:"notifyrollbacks" description:"Also notify subscribers for rolled-back blocks"`
	TestNet3          bool          `long:"testnet" description:"Use the test network"`
}

// loadConfig initializes and parses the config using a config file and
// command line options, command line taking precedence.
func loadConfig() (*config, error) {
	cfg := config{
		ConfigFile:   defaultConfigFile,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		PublicListen: defaultPublicListen,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	// Load the config file when present; options given on the command
	// line keep precedence by re-parsing them afterwards.
	if fileExists(cfg.ConfigFile) {
		if err := flags.NewIniParser(parser).ParseFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if _, err := parser.Parse(); err != nil {
			return nil, err
		}
	}

	if cfg.SecureListen != "" && (cfg.Cert == "" || cfg.Key == "") {
		return nil, fmt.Errorf("securelisten requires both cert and key")
	}

	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if !validLogLevel(cfg.DebugLevel) {
		return nil, fmt.Errorf("unknown debuglevel %q", cfg.DebugLevel)
	}
	setLogLevels(cfg.DebugLevel)

	return &cfg, nil
}

// settings translates the daemon config to the server core's settings.
func (cfg *config) settings() *qserver.Settings {
	settings := qserver.DefaultSettings()
	settings.PublicEndpoint = cfg.PublicListen
	settings.SecureEndpoint = cfg.SecureListen
	settings.CertFile = cfg.Cert
	settings.KeyFile = cfg.Key
	settings.ClientKeys = cfg.ClientKeys
	settings.NotifyRollbacks = cfg.NotifyRollbacks
	if cfg.SubscriptionTTL > 0 {
		settings.SubscriptionTTL = cfg.SubscriptionTTL
	}
	if cfg.SubscriptionLimit > 0 {
		settings.SubscriptionLimit = cfg.SubscriptionLimit
	}
	if cfg.Workers > 0 {
		settings.Workers = cfg.Workers
	}
	if cfg.QueryTimeout > 0 {
		settings.QueryTimeout = cfg.QueryTimeout
	}
	return settings
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
