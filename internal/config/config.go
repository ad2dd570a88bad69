// Package config provides viper-based process configuration for the
// master (qserv-master) and worker (qserv-worker) processes, binding the
// closed configuration-key sets of spec.md §6.
//
// Grounded on the teacher's internal/config/config.go: viper.New, a
// setDefaults pass, mapstructure-tagged structs, SetEnvPrefix +
// AutomaticEnv.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MasterConfig holds the qserv-master process configuration, binding
// spec.md §6's "Configuration keys (client)" table.
type MasterConfig struct {
	Frontend FrontendConfig `mapstructure:"frontend"`
	ResultDB ResultDBConfig `mapstructure:"resultdb"`
	CSS      CSSConfig      `mapstructure:"css"`
	Table    TableConfig    `mapstructure:"table"`
	Sample   SampleConfig   `mapstructure:"sample"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FrontendConfig holds the dispatch endpoint for worker requests.
type FrontendConfig struct {
	Xrootd string `mapstructure:"xrootd"`
}

// ResultDBConfig holds merge-target credentials for the client-local
// merged result database.
type ResultDBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// CSSConfig holds the catalog (chunk metadata) backend selection.
type CSSConfig struct {
	Technology string `mapstructure:"technology"` // "postgres" | "static"
	Connection string `mapstructure:"connection"`
}

// TableConfig holds the default/allowed-database policy enforced by the
// parse frontend per spec.md §6's rejected-construct list.
type TableConfig struct {
	DefaultDB  string   `mapstructure:"defaultdb"`
	AllowedDBs []string `mapstructure:"alloweddbs"`
}

// SampleConfig holds the sampling fraction knobs.
type SampleConfig struct {
	Seed     int64   `mapstructure:"seed"`
	Fraction float64 `mapstructure:"fraction"`
}

// AuthConfig holds the capability token this master instance presents
// as its own identity when dispatching to workers, and the path to the
// static topology file bootstrapped at startup.
type AuthConfig struct {
	Token    string `mapstructure:"token"`
	Topology string `mapstructure:"topology"`
}

// LoggingConfig holds structured-log output configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultMasterConfig returns a MasterConfig with the defaults named in
// spec.md §6 where one is given, and reasonable development defaults
// otherwise.
func DefaultMasterConfig() *MasterConfig {
	return &MasterConfig{
		Frontend: FrontendConfig{Xrootd: "localhost:1094"},
		ResultDB: ResultDBConfig{Host: "localhost", Port: 5432, User: "qsmaster", Name: "qservResult"},
		CSS:      CSSConfig{Technology: "static"},
		Table:    TableConfig{DefaultDB: "LSST", AllowedDBs: []string{"LSST"}},
		Sample:   SampleConfig{Seed: 1, Fraction: 1.0},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadMaster loads the master configuration from file and environment.
func LoadMaster(configPath string) (*MasterConfig, error) {
	v := viper.New()
	setMasterDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".qserv"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("qserv-master")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QSERV")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: error reading master config: %w", err)
		}
	}

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing master config: %w", err)
	}
	return &cfg, nil
}

func setMasterDefaults(v *viper.Viper) {
	d := DefaultMasterConfig()
	v.SetDefault("frontend.xrootd", d.Frontend.Xrootd)
	v.SetDefault("resultdb.host", d.ResultDB.Host)
	v.SetDefault("resultdb.port", d.ResultDB.Port)
	v.SetDefault("resultdb.user", d.ResultDB.User)
	v.SetDefault("resultdb.name", d.ResultDB.Name)
	v.SetDefault("css.technology", d.CSS.Technology)
	v.SetDefault("table.defaultdb", d.Table.DefaultDB)
	v.SetDefault("table.alloweddbs", d.Table.AllowedDBs)
	v.SetDefault("sample.seed", d.Sample.Seed)
	v.SetDefault("sample.fraction", d.Sample.Fraction)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// WorkerConfig binds spec.md §6's "Configuration keys (worker)" table.
type WorkerConfig struct {
	MemMan         string `mapstructure:"QSW_MEMMAN"` // "MemManReal" | "MemManNone"
	MemManMB       int    `mapstructure:"QSW_MEMMAN_MB"`
	MemManLocation string `mapstructure:"QSW_MEMMAN_LOCATION"`

	ThreadPoolSize int `mapstructure:"QSW_THRDPOOLSZ"`
	GroupSize      int `mapstructure:"QSW_GROUPSZ"`

	PriorityFast int `mapstructure:"QSW_PRIORITYFAST"`
	PriorityMed  int `mapstructure:"QSW_PRIORITYMED"`
	PrioritySlow int `mapstructure:"QSW_PRIORITYSLOW"`

	ReserveFast int `mapstructure:"QSW_RESERVEFAST"`
	ReserveMed  int `mapstructure:"QSW_RESERVEMED"`
	ReserveSlow int `mapstructure:"QSW_RESERVESLOW"`

	ScratchDB    string `mapstructure:"scratchDb"`
	MysqlSocket  string `mapstructure:"mysqlSocket"`
	ListenAddr   string `mapstructure:"listenAddr"`
	Logging      LoggingConfig `mapstructure:"logging"`
}

// DefaultWorkerConfig returns spec.md §6's defaults, falling back to
// runtime.NumCPU() for the thread-pool size at the call site (this
// package has no opinion on hardware_concurrency()).
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		MemMan:         "MemManReal",
		MemManMB:       1000,
		MemManLocation: "/tmp/qserv-memman",
		ThreadPoolSize: 0, // 0 means "use hardware_concurrency()" at construction
		GroupSize:      1,
		PriorityFast:   0,
		PriorityMed:    1,
		PrioritySlow:   2,
		ReserveFast:    2,
		ReserveMed:     1,
		ReserveSlow:    1,
		ScratchDB:      "qservScratch",
		MysqlSocket:    "",
		ListenAddr:     ":9000",
		Logging:        LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadWorker loads the worker configuration from file and environment.
// Worker keys are historically flat, all-caps, QSW_-prefixed — viper's
// case-insensitive key matching and AutomaticEnv both honor that as-is.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()
	setWorkerDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("qserv-worker")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: error reading worker config: %w", err)
		}
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing worker config: %w", err)
	}
	return &cfg, nil
}

func setWorkerDefaults(v *viper.Viper) {
	d := DefaultWorkerConfig()
	v.SetDefault("QSW_MEMMAN", d.MemMan)
	v.SetDefault("QSW_MEMMAN_MB", d.MemManMB)
	v.SetDefault("QSW_MEMMAN_LOCATION", d.MemManLocation)
	v.SetDefault("QSW_THRDPOOLSZ", d.ThreadPoolSize)
	v.SetDefault("QSW_GROUPSZ", d.GroupSize)
	v.SetDefault("QSW_PRIORITYFAST", d.PriorityFast)
	v.SetDefault("QSW_PRIORITYMED", d.PriorityMed)
	v.SetDefault("QSW_PRIORITYSLOW", d.PrioritySlow)
	v.SetDefault("QSW_RESERVEFAST", d.ReserveFast)
	v.SetDefault("QSW_RESERVEMED", d.ReserveMed)
	v.SetDefault("QSW_RESERVESLOW", d.ReserveSlow)
	v.SetDefault("scratchDb", d.ScratchDB)
	v.SetDefault("mysqlSocket", d.MysqlSocket)
	v.SetDefault("listenAddr", d.ListenAddr)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
