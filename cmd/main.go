package main

import (
	"fmt"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version of the service
const version = "1.0.0"

/**
 * MAIN
 */
func main() {
	// Get config params and use them to init service context. Any issues are fatal
	cfg, err := LoadConfiguration(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid configuration: %s\n", err.Error())
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	log.Info().Msg("===> V4 ALM pool starting up <===")
	cfg.log(log)

	svc, err := InitializeService(version, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to initialize service")
	}

	log.Info().Msg("Setup routes...")
	gin.SetMode(gin.ReleaseMode)
	gin.DisableConsoleColor()
	router := svc.newRouter()

	portStr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Msgf("Start service v%s on port %s", version, portStr)
	log.Fatal().Err(router.Run(portStr)).Msg("service stopped")
}

func (svc *ServiceContext) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(svc.requestLogger)
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowCredentials = true
	corsCfg.AddAllowHeaders("Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/", svc.getVersion)
	router.GET("/favicon.ico", svc.ignoreFavicon)
	router.GET("/version", svc.getVersion)
	router.GET("/healthcheck", svc.healthCheck)
	router.GET("/identify", svc.identifyHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{})))
	api := router.Group("/api")
	{
		api.GET("/providers", svc.providersHandler)
		api.GET("/search", svc.authMiddleware, svc.search)
		api.GET("/search/url", svc.authMiddleware, svc.searchURL)
		api.GET("/metrics", svc.authMiddleware, svc.getMetrics)
		api.POST("/metrics", svc.authMiddleware, svc.postMetrics)
	}

	router.Use(static.Serve("/assets", static.LocalFile("./assets", true)))
	return router
}
