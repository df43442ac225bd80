package clfolio

import (
	"context"
	"fmt"
	"time"

	"littlefolio/internal/clredis"
	"littlefolio/internal/gormzerologger"
	"littlefolio/internal/models/clanalytics"
	"littlefolio/internal/models/clcaptchas"
	"littlefolio/internal/models/clconfig"
	"littlefolio/internal/models/clgeo"
	"littlefolio/internal/models/cltracking"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Littlefolio regroupe les dépendances partagées par les handlers
type Littlefolio struct {
	Db            *gorm.DB
	Configuration *clconfig.Config
	Redis         *redis.Client
	Locator       *clgeo.Locator
	Gateway       *clanalytics.Gateway
	Captcha       *clcaptchas.Captchas
	Queue         *cltracking.Background
	Cron          *cron.Cron
	Version       string
	BuildID       string

	ctx    context.Context
	cancel context.CancelFunc
}

// Init ouvre la base, redis et la base GeoIP, puis démarre la maintenance.
// Redis et GeoIP sont optionnels : en cas d'échec on continue sans.
func Init(config *clconfig.Config, version string, buildid string) (*Littlefolio, error) {
	ctx, cancel := context.WithCancel(context.Background())
	lf := &Littlefolio{
		Configuration: config,
		Version:       version,
		BuildID:       buildid,
		ctx:           ctx,
		cancel:        cancel,
	}

	db, err := OpenDatabase(config.Database, config.Logger.Level, config.Production)
	if err != nil {
		cancel()
		return nil, err
	}
	lf.Db = db

	lf.initRedis()
	lf.initLocator()

	analytics := config.Analytics
	opts := []clanalytics.Option{
		clanalytics.WithStaleAfter(time.Duration(analytics.StaleMinutes) * time.Minute),
		clanalytics.WithRealtime(clanalytics.NewRealtime(lf.Redis)),
	}
	if lf.Locator != nil {
		opts = append(opts, clanalytics.WithLocator(lf.Locator))
	}
	lf.Gateway = clanalytics.NewGateway(db, opts...)
	lf.Captcha = clcaptchas.New(lf.Redis, config.Production)
	lf.Queue = cltracking.NewBackground(ctx, analytics.BackgroundWorkers)

	lf.Cron, err = clanalytics.StartMaintenance(lf.Gateway, analytics.Sweep, analytics.RetentionDays)
	if err != nil {
		lf.Close()
		return nil, err
	}

	return lf, nil
}

// OpenDatabase ouvre la base configurée et migre le schéma
func OpenDatabase(cfg clconfig.DatabaseConfig, logLevel string, production bool) (*gorm.DB, error) {
	// Créer le logger GORM avec Zerolog
	level := "warn"
	if logLevel == "debug" || !production {
		level = "trace"
	}
	gormConfig := &gorm.Config{
		Logger:         gormzerologger.New(level),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Db {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dialector = mysql.Open(cfg.Dsn)
	case "postgres":
		dialector = postgres.Open(cfg.Dsn)
	default:
		return nil, fmt.Errorf("le type de database doit etre sqlite, mysql ou postgres")
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("erreur connexion base de données: %w", err)
	}

	// sqlite n'accepte qu'un écrivain
	if cfg.Db == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(clanalytics.Models()...); err != nil {
		return nil, fmt.Errorf("erreur migration: %w", err)
	}
	return db, nil
}

func (lf *Littlefolio) initRedis() {
	redisConf := lf.Configuration.Database.Redis
	client, err := clredis.NewClient(lf.ctx, redisConf.Addr, redisConf.Db)
	if err != nil {
		log.Error().Err(err).Msg("Redis indisponible, compteurs temps réel désactivés")
		return
	}
	lf.Redis = client
}

func (lf *Littlefolio) initLocator() {
	locator, err := clgeo.Open(lf.Configuration.Analytics.GeoIP)
	if err != nil {
		log.Error().Err(err).Str("path", lf.Configuration.Analytics.GeoIP).Msg("GeoIP indisponible")
		return
	}
	lf.Locator = locator
}

// Context est annulé par Close
func (lf *Littlefolio) Context() context.Context {
	return lf.ctx
}

func (lf *Littlefolio) Heartbeat() time.Duration {
	return time.Duration(lf.Configuration.Analytics.HeartbeatSeconds) * time.Second
}

// Close vide la file de fond puis libère les ressources. Les connexions
// websocket doivent être fermées avant.
func (lf *Littlefolio) Close() {
	if lf.Cron != nil {
		<-lf.Cron.Stop().Done()
	}
	if lf.Queue != nil {
		lf.Queue.Wait()
	}
	lf.cancel()

	if err := lf.Locator.Close(); err != nil {
		log.Warn().Err(err).Msg("GeoIP close failed")
	}
	if lf.Redis != nil {
		if err := lf.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close failed")
		}
	}
	if lf.Db != nil {
		if sqlDB, err := lf.Db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
