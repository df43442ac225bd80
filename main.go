package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"littlefolio/internal/clmiddleware"
	handlers_analytics "littlefolio/internal/handlers/analytics"
	handlers_comments "littlefolio/internal/handlers/comments"
	handlers_live "littlefolio/internal/handlers/live"
	"littlefolio/internal/models/clconfig"
	"littlefolio/internal/models/clfolio"
	"littlefolio/internal/models/cllog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
)

const VERSION string = "0.3.0"

// global instance
var (
	configuration *clconfig.Config
	BuildID       string
)

//go:embed ressources/js
var staticFS embed.FS

// écritures exposées aux robots, un quota par famille de routes
const (
	limiterPeriod   = time.Minute
	likeLimitMax    = 30
	commentLimitMax = 5
)

func parseCommandLineArgs() (configFile string, shouldCreateExample bool, versionDisplay bool, err error) {
	var config = flag.String("config", "", "Fichier de configuration YAML")
	var example = flag.Bool("example", false, "Créer un fichier de configuration exemple")
	var version = flag.Bool("version", false, "version du produit")
	flag.Parse()

	if *version {
		return "", false, true, nil
	}

	if *example {
		return *config, true, false, nil
	}

	if *config == "" {
		return "", false, false, fmt.Errorf("fichier de configuration requis")
	}

	return *config, false, false, nil
}

func initConfiguration() {
	configFile, shouldCreateExample, versionDisplay, err := parseCommandLineArgs()
	if err != nil {
		fmt.Println("Usage:")
		fmt.Println("  littlefolio -config littlefolio.yaml")
		fmt.Println("  littlefolio -example  (pour créer un fichier exemple)")
		fmt.Println("  littlefolio -version  (affiche la version)")
		os.Exit(1)
	}

	if versionDisplay {
		println(VERSION)
		os.Exit(0)
	}

	clconfig.CreateExample(shouldCreateExample, configFile)

	conf, err := clconfig.LoadConfig(configFile)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	configuration = conf
}

func newServer(conf *clconfig.Config) *gin.Engine {
	if conf.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if conf.TrustedProxies != nil {
		if err := r.SetTrustedProxies(conf.TrustedProxies); err != nil {
			log.Warn().Err(err).Msg("invalid trusted proxies")
		}
	}
	if conf.TrustedPlatform != "" {
		switch conf.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = conf.TrustedPlatform
		}
	}

	clmiddleware.InitMiddleware(r, conf.Origins, conf.Production)
	return r
}

func setRoutes(r *gin.Engine, lf *clfolio.Littlefolio) *handlers_live.LiveHandler {
	conf := lf.Configuration

	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)

	// middleware rate limiter
	likeLimiter := clmiddleware.NewLimiter(limiterPeriod, likeLimitMax)
	commentLimiter := clmiddleware.NewLimiter(limiterPeriod, commentLimitMax)

	//default
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page non trouvée"})
	})

	// Route statiques
	if conf.StaticPath != "" {
		r.Static("/static/", conf.StaticPath)
	}
	r.GET("/files/js/*file", ServeMinifiedStatic(m))
	r.GET("/files/captcha", lf.Captcha.CaptchaHandler)

	// API publiques
	identity := clmiddleware.IdentityMiddleware(conf.Production)
	api := r.Group("/api", identity)
	handlers_analytics.NewAnalyticsHandler(lf.Gateway, conf.Analytics.StatsHash).Register(api, likeLimiter)
	handlers_comments.NewCommentsHandler(lf.Gateway, lf.Captcha).Register(api, commentLimiter)

	// une connexion par page ouverte
	live := handlers_live.NewLiveHandler(lf.Context(), lf.Gateway, lf.Queue, lf.Heartbeat(), conf.Origins)
	live.Register(r.Group("/ws", identity))

	return live
}

// ServeMinifiedStatic sert les scripts embarqués, minifiés
func ServeMinifiedStatic(m *minify.M) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, "/files/")
		content, err := fs.ReadFile(staticFS, "ressources/"+path)
		if err != nil || filepath.Ext(path) != ".js" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Fichier non trouvé"})
			return
		}

		minified, err := m.Bytes("application/javascript", content)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("minification failed")
			minified = content
		}

		etag := generateETag(minified)
		c.Header("Cache-Control", "public, max-age=3600")
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}

		c.Data(http.StatusOK, "application/javascript", minified)
	}
}

// Fonction helper pour générer un ETag
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf(`"%x"`, hash[:16])
}

func startMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	log.Info().Msgf("Metrics disponible sur http://%s/metrics", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// startServer bloque jusqu'à SIGINT/SIGTERM puis arrête proprement : plus de
// nouvelles requêtes, pages ouvertes démontées, file de fond vidée.
func startServer(r *gin.Engine, lf *clfolio.Littlefolio, live *handlers_live.LiveHandler) {
	logger := cllog.Component("server")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := startMetrics(lf.Configuration.Listen.Metrics)

	srv := &http.Server{
		Addr:              lf.Configuration.Listen.Website,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Msgf("Website démarré sur http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Arrêt en cours")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if metrics != nil {
		_ = metrics.Shutdown(shutdownCtx)
	}

	// les websockets détournés ne sont pas suivis par Shutdown
	live.CloseAll()
	live.Wait()
	lf.Close()
	logger.Info().Msg("Arrêt terminé")
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	initConfiguration()
	cllog.InitLogger(configuration.Logger, configuration.Production)
	clconfig.DisplayConfiguration(configuration, BuildID)

	lf, err := clfolio.Init(configuration, VERSION, BuildID)
	if err != nil {
		log.Fatal().Err(err).Msg("initialisation impossible")
	}

	r := newServer(configuration)
	live := setRoutes(r, lf)

	startServer(r, lf, live)
}
