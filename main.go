package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/dlcache/internal/cache"
	"github.com/any-hub/dlcache/internal/config"
	"github.com/any-hub/dlcache/internal/download"
	"github.com/any-hub/dlcache/internal/fetcher"
	"github.com/any-hub/dlcache/internal/logging"
	"github.com/any-hub/dlcache/internal/server"
	"github.com/any-hub/dlcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath     string
	configExplicit bool
	checkOnly      bool
	showVersion    bool
	serve          bool
	clear          bool
	output         string
	identifiers    []string
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

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	// 下载内容可能直接写到 stdout，日志默认走 stderr。
	logger, err := logging.InitLogger(cfg.Global, stdErr)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["key_algorithm"] = cfg.Global.KeyAlgorithm
		fields["fetcher"] = cfg.Fetcher.Strategy
		fields["auth_mode"] = cfg.Fetcher.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if !opts.serve && len(opts.identifiers) == 0 {
		fmt.Fprintln(stdErr, "至少需要一个标识符（URL），或使用 -serve 启动 HTTP 服务")
		return 2
	}
	if opts.output != "" && len(opts.identifiers) > 1 {
		fmt.Fprintln(stdErr, "-o 只能与单个标识符一起使用")
		return 2
	}

	// 启动顺序遵循“配置 → 磁盘缓存 → 回源客户端 → Downloader”，
	// 保证 CLI 与 HTTP 前端共享同一份缓存实例。
	dl, err := buildDownloader(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化下载器失败: %v\n", err)
		return 1
	}
	defer dl.Wait()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["storage_path"] = cfg.Global.StoragePath
	fields["fetcher"] = cfg.Fetcher.Strategy
	fields["version"] = version.Full()
	logger.WithFields(fields).Debug("配置加载完成")

	if opts.serve {
		if err := startHTTPServer(cfg, dl, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}

	return runIdentifiers(context.Background(), dl, opts)
}

func runIdentifiers(ctx context.Context, dl *download.Downloader, opts cliOptions) int {
	code := 0
	for _, id := range opts.identifiers {
		var err error
		switch {
		case opts.clear:
			err = dl.Clear(ctx, id)
		case opts.output != "":
			_, err = dl.FetchToFile(ctx, id, opts.output)
		default:
			_, err = dl.FetchToSink(ctx, id, nopWriteCloser{stdOut})
		}
		if err != nil {
			fmt.Fprintf(stdErr, "%s: %v\n", id, err)
			code = 1
		}
	}
	return code
}

func buildDownloader(cfg *config.Config, logger *logrus.Logger) (*download.Downloader, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath, logger)
	if err != nil {
		return nil, err
	}
	keys, err := cache.NewKeyDeriver(cfg.Global.KeyAlgorithm)
	if err != nil {
		return nil, err
	}
	source, err := fetcher.New(cfg.Fetcher)
	if err != nil {
		return nil, err
	}
	return download.New(download.Options{
		Store:       store,
		Keys:        keys,
		Source:      source,
		Logger:      logger,
		BufferLimit: cfg.Global.BufferLimit,
	})
}

// loadConfig 在未显式指定配置且默认文件不存在时回退到内置默认值。
func loadConfig(opts cliOptions) (*config.Config, error) {
	if !opts.configExplicit {
		if _, err := os.Stat(opts.configPath); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(opts.configPath)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("dlcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		serve      bool
		clear      bool
		output     string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&serve, "serve", false, "启动 HTTP 服务")
	fs.BoolVar(&clear, "clear", false, "删除标识符对应的缓存条目")
	fs.StringVar(&output, "o", "", "下载目标文件（默认输出到 stdout）")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("DLCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	explicit := path != ""
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:     path,
		configExplicit: explicit,
		checkOnly:      checkOnly,
		showVersion:    showVer,
		serve:          serve,
		clear:          clear,
		output:         output,
		identifiers:    fs.Args(),
	}, nil
}

func startHTTPServer(cfg *config.Config, dl *download.Downloader, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Downloader: dl,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
