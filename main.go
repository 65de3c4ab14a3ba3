package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/audiohub/internal/cache"
	"github.com/any-hub/audiohub/internal/config"
	"github.com/any-hub/audiohub/internal/content"
	"github.com/any-hub/audiohub/internal/extractor"
	"github.com/any-hub/audiohub/internal/fetch"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/proxy"
	"github.com/any-hub/audiohub/internal/server"
	"github.com/any-hub/audiohub/internal/server/routes"
	"github.com/any-hub/audiohub/internal/stream"
	"github.com/any-hub/audiohub/internal/version"
)

const shutdownTimeout = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logging.Close(logger)

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["listen_port"] = cfg.Global.ListenPort
		fields["audio_format"] = cfg.Extractor.AudioFormat
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 磁盘缓存 → 提取器 → 协调器 → Fiber server”顺序，
	// 保证所有请求共享同一份缓存与按键锁表。
	app, sweeper, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["retention"] = cfg.Global.RetentionAge.DurationValue().String()
	fields["origins"] = cfg.Global.OriginsSummary()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(app, sweeper, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 组装缓存、提取器、协调器与路由，返回可直接监听的 Fiber 应用。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, *cache.Sweeper, error) {
	ytdlp, err := extractor.New(extractor.Options{
		BinPath:          cfg.Extractor.ExtractorPath,
		SourceURL:        cfg.Extractor.SourceURL,
		AudioFormat:      cfg.Extractor.AudioFormat,
		AudioQuality:     cfg.Extractor.AudioQuality,
		MetadataMaxBytes: cfg.Extractor.MetadataMaxBytes,
	})
	if err != nil {
		return nil, nil, err
	}
	profile := ytdlp.Profile()

	if path, err := ytdlp.CheckInstallation(); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action": "startup",
			"binary": cfg.Extractor.ExtractorPath,
		}).Warn("extractor_unavailable")
	} else {
		logger.WithFields(logrus.Fields{
			"action": "startup",
			"binary": path,
		}).Info("extractor_found")
	}

	store, err := cache.NewStore(cfg.Global.StoragePath, profile.Ext)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	coordinator := fetch.NewCoordinator(store, ytdlp, fetch.Options{
		Timeout:       cfg.Extractor.ExtractorTimeout.DurationValue(),
		MaxConcurrent: cfg.Extractor.MaxConcurrentExtractions,
		Logger:        logger,
	})
	sweeper := cache.NewSweeper(store, cfg.Global.RetentionAge.DurationValue(), logger)

	handler, err := proxy.NewHandler(proxy.Options{
		Fetcher:       coordinator,
		Metadata:      ytdlp,
		Responder:     stream.NewResponder(store, logger),
		Profile:       profile,
		DefaultFormat: content.Format(cfg.Extractor.DefaultFormat),
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:         logger,
		AllowedOrigins: cfg.Global.AllowedOrigins,
	})
	if err != nil {
		return nil, nil, err
	}
	routes.RegisterAdminRoutes(app, routes.AdminOptions{
		Store:    store,
		Sweeper:  sweeper,
		InFlight: coordinator.InFlight,
	})
	routes.RegisterMediaRoutes(app, handler)

	return app, sweeper, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("audiohub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 AUDIOHUB_CONFIG 提供，留空则仅使用默认值与环境变量）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(config.EnvPrefix + "_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// startHTTPServer 监听端口直到收到 SIGINT/SIGTERM，随后优雅关闭并停止后台清理。
func startHTTPServer(app *fiber.App, sweeper *cache.Sweeper, cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Global.CleanupInterval.DurationValue(); interval > 0 {
		go sweeper.Run(ctx, interval)
	}

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务关闭中")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("shutdown_failed")
		}
	}()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
