package clconfig

import (
	"fmt"
	"log/syslog"
	"os"
	"strings"

	"github.com/andskur/argon2-hashing"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHeartbeatSeconds  = 30
	DefaultStaleMinutes      = 5
	DefaultSweep             = "@every 5m"
	DefaultBackgroundWorkers = 8
)

type Config struct {
	TrustedProxies  []string        `yaml:"trustedproxies"`
	TrustedPlatform string          `yaml:"trustedplatform"`
	Database        DatabaseConfig  `yaml:"database"`
	StaticPath      string          `yaml:"staticpath"`
	Production      bool            `yaml:"production"`
	Origins         []string        `yaml:"origins"`
	Listen          ListenConfig    `yaml:"listen"`
	Logger          LoggerConfig    `yaml:"logger"`
	Analytics       AnalyticsConfig `yaml:"analytics"`
}

// AnalyticsConfig règle le cycle de vie des sessions de page
type AnalyticsConfig struct {
	HeartbeatSeconds  int    `yaml:"heartbeatseconds"`
	StaleMinutes      int    `yaml:"staleminutes"`
	RetentionDays     int    `yaml:"retentiondays"`
	Sweep             string `yaml:"sweep"`
	GeoIP             string `yaml:"geoip"`
	BackgroundWorkers int    `yaml:"backgroundworkers"`

	// jeton Bearer des statistiques agrégées, haché en argon2 dans
	// StatsHash au premier chargement. Sans hash : route désactivée
	StatsToken string `yaml:"statstoken"`
	StatsHash  string `yaml:"statshash"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
	Metrics string `yaml:"metrics"`
}

type DatabaseConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Db    string      `yaml:"db"`
	Path  string      `yaml:"path"`
	Dsn   string      `yaml:"dsn"`
}

func CreateExampleConfig(filename string) (string, error) {
	example := &Config{
		Database: DatabaseConfig{
			Db:   "sqlite",
			Path: "./littlefolio.db",
		},
		StaticPath: "./dist",
		Production: false,
		Origins:    []string{"http://localhost:5173"},
		Logger: LoggerConfig{
			Level: "info",
			File: LoggerFileConfig{
				Enable: false,
			},
			Syslog: LoggerSyslogConfig{
				Enable: false,
			},
		},
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
		},
		Analytics: AnalyticsConfig{
			HeartbeatSeconds:  DefaultHeartbeatSeconds,
			StaleMinutes:      DefaultStaleMinutes,
			RetentionDays:     0,
			Sweep:             DefaultSweep,
			BackgroundWorkers: DefaultBackgroundWorkers,
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Listen.Metrics = "127.0.0.1:8090"
		example.Production = true
		example.Database.Path = "/var/lib/littlefolio/sqlite.db"
		example.StaticPath = "/var/lib/littlefolio/dist"
		example.Analytics.RetentionDays = 395
		example.Analytics.GeoIP = "/var/lib/GeoIP/GeoLite2-City.mmdb"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/littlefolio/littlefolio.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/littlefolio/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("impossible de lire le fichier %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("erreur de parsing YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Analytics.StatsToken != "" {
		if err := config.HashStatsToken(); err != nil {
			return nil, err
		}
		if err := WriteConfigYaml(filename, &config); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

// HashStatsToken remplace le jeton en clair par son hash argon2
func (c *Config) HashStatsToken() error {
	if len(c.Analytics.StatsToken) < 8 {
		return fmt.Errorf("analytics.statstoken doit contenir au moins 8 caractères")
	}

	hash, err := argon2.GenerateFromPassword([]byte(c.Analytics.StatsToken), argon2.DefaultParams)
	if err != nil {
		return err
	}
	c.Analytics.StatsHash = string(hash)
	c.Analytics.StatsToken = ""
	return nil
}

// Validate complète les valeurs par défaut et refuse une base incomplète
func (c *Config) Validate() error {
	switch c.Database.Db {
	case "":
		return fmt.Errorf("database.db ne peut pas être vide")
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path ne peut pas être vide")
		}
	case "mysql", "postgres":
		if c.Database.Dsn == "" {
			return fmt.Errorf("database.dsn ne peut pas être vide")
		}
	default:
		return fmt.Errorf("le type de database doit etre sqlite, mysql ou postgres")
	}

	if c.Listen.Website == "" {
		c.Listen.Website = "localhost:8080"
	}
	if strings.HasPrefix(c.Listen.Website, ":") {
		c.Listen.Website = "localhost" + c.Listen.Website
	}

	if c.Analytics.HeartbeatSeconds <= 0 {
		c.Analytics.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.Analytics.StaleMinutes <= 0 {
		c.Analytics.StaleMinutes = DefaultStaleMinutes
	}
	if c.Analytics.Sweep == "" {
		c.Analytics.Sweep = DefaultSweep
	}
	if c.Analytics.BackgroundWorkers <= 0 {
		c.Analytics.BackgroundWorkers = DefaultBackgroundWorkers
	}
	if c.Analytics.RetentionDays < 0 {
		return fmt.Errorf("analytics.retentiondays doit etre positif")
	}
	return nil
}

func CreateExample(shouldCreateExample bool, configFile string) {
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "littlefolio.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("erreur création exemple: %w", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	fmt.Println("⚠️  analytics.statstoken sera automatiquement hashé en argon2 dans analytics.statshash au premier lancement")
	return nil
}

func DisplayConfiguration(config *Config, version string) {
	logPrintf("Littlefolio version %s", version)

	logPrintf("Mode Production %v", config.Production)

	logPrintf("Database")
	switch config.Database.Db {
	case "sqlite":
		logPrintf("  • Type sqlite")
		logPrintf("  • Path %s", config.Database.Path)
	case "mysql", "postgres":
		logPrintf("  • Type %s", config.Database.Db)
		logPrintf("  • DSN %s", redactDsn(config.Database.Dsn))
	}
	if config.Database.Redis.Addr != "" {
		logPrintf("  • Redis %s (compteurs temps réel, captcha)", config.Database.Redis.Addr)
	} else {
		logPrintf("  • Redis désactivé")
	}

	logPrintf("Analytics")
	logPrintf("  • Heartbeat toutes les %ds", config.Analytics.HeartbeatSeconds)
	logPrintf("  • Session active pendant %d min", config.Analytics.StaleMinutes)
	logPrintf("  • Nettoyage des sessions %s", config.Analytics.Sweep)
	if config.Analytics.RetentionDays > 0 {
		logPrintf("  • Rétention des vues %d jours", config.Analytics.RetentionDays)
	} else {
		logPrintf("  • Rétention des vues illimitée")
	}
	if config.Analytics.GeoIP != "" {
		logPrintf("  • GeoIP %s", config.Analytics.GeoIP)
	}
	if config.Analytics.StatsHash != "" {
		logPrintf("  • Statistiques agrégées protégées par jeton")
	}

	logPrintf("Logger en level %s", config.Logger.Level)
	if config.Logger.File.Enable {
		logPrintf("  Log en fichier activé")
		logPrintf("  • Path %s", config.Logger.File.Path)
		logPrintf("  • Max size %d", config.Logger.File.MaxSize)
		logPrintf("  • Max age %d", config.Logger.File.MaxAge)
		logPrintf("  • Max backup %d", config.Logger.File.MaxBackups)
		logPrintf("  • Compression %v", config.Logger.File.Compress)
	} else {
		logPrintf("  Log en fichier désactivé")
	}
	if config.Logger.Syslog.Enable {
		logPrintf("  Log en syslog activé")
		logPrintf("  • Protocol %s", config.Logger.Syslog.Protocol)
		logPrintf("  • Address %s", config.Logger.Syslog.Address)
		logPrintf("  • Tag %s", config.Logger.Syslog.Tag)
	} else {
		logPrintf("  Log en syslog désactivé")
	}

	if len(config.Origins) > 0 {
		logPrintf("Origines autorisées %s", strings.Join(config.Origins, ", "))
	}
}

// masque le mot de passe éventuel d'un DSN "user:pass@..."
func redactDsn(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at == -1 {
		return dsn
	}
	head := dsn[:at]
	if colon := strings.LastIndex(head, ":"); colon != -1 {
		head = head[:colon+1] + "****"
	}
	return head + dsn[at:]
}

// Info logue avec printf
func logPrintf(format string, a ...any) {
	log.Info().Msg(fmt.Sprintf(format, a...))
}
