// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teledrive-go/internal/bot"
	"teledrive-go/internal/config"
	"teledrive-go/internal/handler"
	"teledrive-go/internal/pipeline"
	"teledrive-go/internal/repository"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/database"
	"teledrive-go/pkg/es"
	"teledrive-go/pkg/events"
	"teledrive-go/pkg/hash"
	"teledrive-go/pkg/kafka"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/naming"
	"teledrive-go/pkg/storage"
	"teledrive-go/pkg/tasks"
	"teledrive-go/pkg/telegram"
	"teledrive-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	hashPassword := flag.String("hash-password", "", "输出密码的 bcrypt 哈希（用于 admin.password_hash）后退出")
	flag.Parse()

	if *hashPassword != "" {
		h, err := hash.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.Fatal("创建上传目录失败", err)
	}

	// 3. 初始化元数据存储和 Redis
	repo, err := newRepository(cfg)
	if err != nil {
		log.Fatal("初始化文件记录存储失败", err)
	}
	if err := database.InitRedis(cfg.Database.Redis); err != nil {
		log.Warnf("Redis 不可用，限流和重试计数使用降级模式: %v", err)
	}

	// 4. 初始化可选的外部集成
	hub := events.NewHub(64)
	in := service.Integrations{Events: hub}

	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Warnf("Elasticsearch 初始化失败，检索使用内存匹配: %v", err)
		} else {
			in.Index = es.NewFileIndex(es.ESClient, cfg.Elasticsearch.IndexName)
		}
	}

	var relayers []pipeline.Relayer
	var tgClient *telegram.Client
	if cfg.Telegram.BotToken != "" {
		if err := telegram.InitBot(cfg.Telegram); err != nil {
			log.Warnf("Telegram 不可用: %v", err)
		} else {
			tgClient = telegram.NewClient(telegram.Bot, cfg.Telegram)
			in.Remotes = append(in.Remotes, tgClient)
			if cfg.Telegram.ChatID != 0 {
				relayers = append(relayers, tgClient)
			}
		}
	}
	if cfg.MinIO.Endpoint != "" {
		if err := storage.InitMinIO(ctx, cfg.MinIO); err != nil {
			log.Warnf("MinIO 不可用: %v", err)
		} else {
			mirror := storage.NewMirror(storage.MinioClient, cfg.MinIO.BucketName, time.Duration(cfg.MinIO.PresignMinutes)*time.Minute)
			in.Remotes = append(in.Remotes, mirror)
			relayers = append(relayers, mirror)
		}
	}

	// 5. 初始化转发任务的传输方式：Kafka 或进程内队列
	var localQueue *tasks.LocalQueue
	var producer *kafka.Producer
	switch {
	case len(relayers) == 0:
		log.Info("未配置任何转发目标，上传后不会转发")
	case cfg.Kafka.Brokers != "":
		producer = kafka.NewProducer(cfg.Kafka)
		in.Dispatcher = producer
	default:
		localQueue = tasks.NewLocalQueue(cfg.Relay.QueueSize, cfg.Relay.Workers, cfg.Relay.MaxAttempts)
		in.Dispatcher = localQueue
	}

	// 6. 初始化 Service (依赖注入)
	jwtSecret := cfg.JWT.Secret
	if jwtSecret == "" {
		jwtSecret = uuid.NewString()
		log.Warnf("未配置 jwt.secret，使用随机密钥，重启后已签发的 token 全部失效")
	}
	jwtManager := token.NewJWTManager(jwtSecret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.ShareLinkExpireHours)
	uploadService := service.NewUploadService(repo, naming.NewGenerator(), cfg.Storage, cfg.Naming, in)
	fileService := service.NewFileService(repo, cfg.Storage.UploadDir, in)
	authService := service.NewAuthService(cfg.Admin, jwtManager)

	// 7. 启动转发管道
	processor := pipeline.NewProcessor(fileService, relayers, cfg.Relay)
	if localQueue != nil {
		localQueue.Start(ctx, processor)
	}
	consumerDone := make(chan struct{})
	if producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka, database.RDB, cfg.Relay.MaxAttempts, processor)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				log.Errorf("Kafka 消费者异常退出: %v", err)
			}
		}()
	} else {
		close(consumerDone)
	}

	// 8. 启动时的维护任务
	if cfg.Store.BackfillNames {
		if n, err := fileService.BackfillDisplayNames(ctx); err != nil {
			log.Warnf("回填显示名称失败: %v", err)
		} else if n > 0 {
			log.Infof("已为 %d 条记录回填显示名称", n)
		}
	}
	janitor, err := service.NewJanitor(repo, cfg.Storage, in)
	if err != nil {
		log.Fatal("初始化清理任务失败", err)
	}
	go janitor.Run(ctx, time.Hour)

	// 9. 启动 Telegram 机器人
	if cfg.Telegram.EnableBot {
		if tgClient == nil {
			log.Warnf("telegram.enable_bot 已开启，但机器人未初始化")
		} else {
			go bot.New(telegram.Bot, tgClient, uploadService, fileService, cfg.Telegram).Run(ctx)
		}
	}

	// 10. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Deps{
		Uploads:          uploadService,
		Files:            fileService,
		Auth:             authService,
		JWT:              jwtManager,
		Hub:              hub,
		Redis:            database.RDB,
		UploadsPerMinute: cfg.RateLimit.UploadsPerMinute,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	// 通知 websocket 客户端断开，被接管的连接不受 Shutdown 管理
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	if localQueue != nil {
		localQueue.Close()
	}
	<-consumerDone
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// newRepository 按 store.backend 选择文件记录的存储方式。
func newRepository(cfg config.Config) (repository.FileRepository, error) {
	switch cfg.Store.Backend {
	case "", "json":
		log.Infof("文件记录存储: JSON 文件 %s", cfg.Store.Path)
		return repository.NewJSONFileRepository(cfg.Store.Path)
	case "mysql":
		if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
			return nil, err
		}
		log.Info("文件记录存储: MySQL")
		return repository.NewGormFileRepository(database.DB)
	default:
		return nil, fmt.Errorf("未知的 store.backend: %q", cfg.Store.Backend)
	}
}
