package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/config"
	"github.com/any-hub/image-hub/internal/logging"
	"github.com/any-hub/image-hub/internal/metrics"
	"github.com/any-hub/image-hub/internal/proxy"
	"github.com/any-hub/image-hub/internal/server"
	"github.com/any-hub/image-hub/internal/server/routes"
	"github.com/any-hub/image-hub/internal/version"
)

const defaultConfigFile = "config.toml"

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

	settings := cfg.Settings()
	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = settings.OriginBaseURL
		fields["ttl"] = settings.CacheTTL.String()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 上游 client → 代理 handler → Fiber server”顺序，
	// 保证所有请求共享同一份 Settings、缓存与 singleflight 实例。
	store, err := cache.NewStore(settings.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	recorder := metrics.NewRecorder()
	httpClient := server.NewUpstreamClient(cfg)
	proxyHandler := proxy.NewHandler(httpClient, logger, store, settings, recorder)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_addr"] = cfg.Global.ListenAddr
	fields["origin"] = settings.OriginBaseURL
	fields["ttl"] = settings.CacheTTL.String()
	fields["storage_path"] = settings.StoragePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, settings, proxyHandler, recorder, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 未显式指定时仅在 ./config.toml 存在时读取它，否则完全依赖默认值与环境变量。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("image-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMAGE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMAGE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		if info, err := os.Stat(defaultConfigFile); err == nil && !info.IsDir() {
			path = defaultConfigFile
		}
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	settings config.Settings,
	proxyHandler server.ProxyHandler,
	recorder *metrics.Recorder,
	logger *logrus.Logger,
) error {
	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Proxy:  proxyHandler,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, settings, recorder.Registry())

	go shutdownOnSignal(app, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   cfg.Global.ListenAddr,
	}).Info("Fiber 服务启动")

	return app.Listen(cfg.Global.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true})
}

// shutdownOnSignal 收到 SIGINT/SIGTERM 后停止接收新连接；已在进行的回源写盘随进程退出中止，
// 临时文件不会被提升为缓存条目。
func shutdownOnSignal(app *fiber.App, logger *logrus.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals

	logger.WithFields(logrus.Fields{
		"action": "shutdown",
		"signal": sig.String(),
	}).Info("Fiber 服务停止")
	if err := app.Shutdown(); err != nil {
		logger.WithError(err).Warn("shutdown_failed")
	}
}
