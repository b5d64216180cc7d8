// Command sequencerd is the sequencer's process entry point: it loads
// configuration, brings up the plugin and sequencing subsystems, serves a
// minimal admin HTTP surface, and drives graceful shutdown on SIGINT/SIGTERM
//. Signal handling follows streamspace-dev-streamspace's
// cmd/main.go shape; none of that binary's HTTP/DB/Kubernetes wiring is
// retained (see DESIGN.md).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lithium-sequencer/sequencer/internal/config"
	"github.com/lithium-sequencer/sequencer/internal/dispatch"
	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
	"github.com/lithium-sequencer/sequencer/internal/plugin"
	"github.com/lithium-sequencer/sequencer/internal/sequence"
	"github.com/lithium-sequencer/sequencer/internal/task"
	"github.com/lithium-sequencer/sequencer/internal/validator"
)

// Exit codes
const (
	exitOK               = 0
	exitConfigError      = 1
	exitPluginLoadFailed = 2
	exitSequenceTimedOut = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", envOr("SEQUENCER_CONFIG", "./config"), "root config file or directory")
	sequencePath := flag.String("sequence", "", "optional persisted sequence file to load at startup")
	logLevel := flag.String("log-level", envOr("SEQUENCER_LOG_LEVEL", "info"), "zerolog level")
	logPretty := flag.Bool("log-pretty", envOr("SEQUENCER_LOG_PRETTY", "false") == "true", "console-writer pretty logging")
	adminAddr := flag.String("admin-addr", envOr("SEQUENCER_ADMIN_ADDR", ":8090"), "admin HTTP surface listen address")
	flag.Parse()

	logger.Initialize(*logLevel, *logPretty)

	store := config.New()
	if err := loadConfig(store, *configPath); err != nil {
		logger.Engine().Error().Err(err).Msg("failed to load configuration")
		return exitConfigError
	}

	pluginDir := "plugins"
	if v, ok := store.Get("plugin/directory"); ok {
		if s, ok := v.(string); ok && s != "" {
			pluginDir = s
		}
	}
	autoLoad := false
	if v, ok := store.Get("plugin/autoLoad"); ok {
		autoLoad, _ = v.(bool)
	}
	requireAll := false
	if v, ok := store.Get("plugin/requireAll"); ok {
		requireAll, _ = v.(bool)
	}

	loader := plugin.NewLoader(plugin.Config{PluginDirectory: pluginDir, APIVersion: plugin.APIVersion})
	dispatcher := dispatch.New()
	admin := gin.New()
	admin.Use(sequencererr.Recovery(), sequencererr.ErrorHandler())
	routes := newGinRouteInstaller(admin.Group("/plugins"))
	manager := plugin.NewManager(loader, dispatcher, routes)

	if autoLoad {
		files, _ := loader.DiscoverPlugins()
		for _, f := range files {
			if _, err := manager.LoadPlugin(f, nil); err != nil {
				logger.Plugin().Warn().Str("file", f).Err(err).Msg("plugin failed to load at startup")
				if requireAll {
					return exitPluginLoadFailed
				}
			}
		}
	}

	engine := sequence.New(validator.ValidateParams)
	if *sequencePath != "" {
		catalog := catalogLookupFromConfig(store)
		if err := engine.LoadSequence(*sequencePath, store, catalog); err != nil {
			logger.Engine().Error().Err(err).Msg("failed to load persisted sequence")
			return exitConfigError
		}
	}

	installAdminRoutes(admin, loader, engine)
	httpServer := &http.Server{Addr: *adminAddr, Handler: admin}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Engine().Error().Err(err).Msg("admin HTTP surface stopped unexpectedly")
		}
	}()

	engine.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Engine().Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)

	engine.Stop()
	timedOut := engine.TimedOut()

	unloadAllReverse(manager, loader)

	if err := store.SaveAll(*configPath); err != nil {
		logger.Config().Warn().Err(err).Msg("failed to persist configuration on shutdown")
	}

	if timedOut {
		return exitSequenceTimedOut
	}
	return exitOK
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadConfig(store *config.Store, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return store.LoadFromDir(path, true)
	}
	return store.LoadFromFile(path)
}

// unloadAllReverse unloads every loaded plugin in reverse dependency order,
// shutdown sequence.
func unloadAllReverse(manager *plugin.Manager, loader *plugin.Loader) {
	order := loader.GetLoadOrder()
	for i := len(order) - 1; i >= 0; i-- {
		if err := manager.UnloadPlugin(order[i]); err != nil {
			logger.Plugin().Warn().Str("plugin", order[i]).Err(err).Msg("failed to unload cleanly during shutdown")
		}
	}
}

// catalogLookupFromConfig resolves a target designation to RA/Dec via
// ConfigStore entries at catalog/<name>/{ra,dec}, the simplest collaborator
// that needs no external network service; the star catalog itself is
// treated as an external collaborator the caller supplies.
func catalogLookupFromConfig(store *config.Store) task.CatalogLookup {
	return func(name string) (float64, float64, bool) {
		ra, ok := store.Get("catalog/" + name + "/ra")
		if !ok {
			return 0, 0, false
		}
		dec, ok := store.Get("catalog/" + name + "/dec")
		if !ok {
			return 0, 0, false
		}
		raF, ok1 := ra.(float64)
		decF, ok2 := dec.(float64)
		return raF, decF, ok1 && ok2
	}
}

func installAdminRoutes(r *gin.Engine, loader *plugin.Loader, engine *sequence.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/plugins", func(c *gin.Context) {
		loaded := loader.AllPlugins()
		names := make([]string, 0, len(loaded))
		for _, lp := range loaded {
			names = append(names, lp.Metadata.Name)
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, gin.H{"plugins": names})
	})

	r.GET("/sequence/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":     engine.State(),
			"totals":    engine.Stats().Total.Load(),
			"successes": engine.Stats().Successes.Load(),
			"failures":  engine.Stats().Failures.Load(),
			"uptime":    engine.Stats().Uptime().String(),
		})
	})
}

// ginRouteInstaller adapts a gin.RouterGroup to internal/plugin.RouteInstaller,
// so controller-capability plugins never need to import gin directly.
type ginRouteInstaller struct {
	group *gin.RouterGroup
}

func newGinRouteInstaller(group *gin.RouterGroup) *ginRouteInstaller {
	return &ginRouteInstaller{group: group}
}

func (g *ginRouteInstaller) Handle(method, path string, handler func(params map[string]any) (map[string]any, error)) {
	g.group.Handle(method, path, func(c *gin.Context) {
		params := map[string]any{}
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		for k, v := range c.Request.URL.Query() {
			if len(v) == 1 {
				params[k] = v[0]
			} else {
				params[k] = v
			}
		}
		result, err := handler(params)
		if err != nil {
			kind := sequencererr.KindOf(err)
			if kind == "" {
				kind = sequencererr.ExternalFailure
			}
			sequencererr.AbortWithError(c, sequencererr.Wrap(kind, err.Error(), err))
			return
		}
		c.JSON(http.StatusOK, result)
	})
}
