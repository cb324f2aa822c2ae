// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multi-rag-go/internal/config"
	"multi-rag-go/internal/handler"
	"multi-rag-go/internal/middleware"
	"multi-rag-go/internal/model"
	"multi-rag-go/internal/pipeline"
	"multi-rag-go/internal/repository"
	"multi-rag-go/internal/service"
	"multi-rag-go/pkg/database"
	"multi-rag-go/pkg/embedding"
	"multi-rag-go/pkg/extractor"
	"multi-rag-go/pkg/kafka"
	"multi-rag-go/pkg/llm"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/storage"
	"multi-rag-go/pkg/token"
	"multi-rag-go/pkg/vectorindex"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.User{}, &model.Document{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化内容存储与向量索引（后端在此处一次性选定）
	contentStore := storage.New(cfg.MinIO)
	index := vectorindex.New(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	log.Infof("向量索引后端: %s", index.Name())

	kafka.InitProducer(cfg.Kafka)

	// 5. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	documentRepository := repository.NewDocumentRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	extractorClient := extractor.NewClient(cfg.Extractor)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	userService := service.NewUserService(userRepository, jwtManager)
	ingestService := service.NewIngestService(embeddingClient, contentStore, index, cfg.Embedding.Model)
	ragService := service.NewRAGService(embeddingClient, index, contentStore, llmClient, cfg.RAG, cfg.LLM)
	documentService := service.NewDocumentService(extractorClient, ingestService, contentStore, documentRepository, index)
	chatService := service.NewChatService(ragService, llmClient, conversationRepo)

	// 7. 启动后台 Kafka 消费者处理文档摄取任务
	processor := pipeline.NewProcessor(documentService, documentRepository, contentStore)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
			}
		}

		// 知识条目直接摄取，需要认证
		embeddings := apiV1.Group("/embeddings")
		embeddings.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			knowledgeHandler := handler.NewKnowledgeHandler(ingestService)
			embeddings.POST("", knowledgeHandler.Ingest)
			embeddings.DELETE("/:entryId", knowledgeHandler.DeleteEntry)
		}

		// RAG 查询，需要认证
		query := apiV1.Group("/query")
		query.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			query.POST("", handler.NewQueryHandler(ragService).Query)
		}

		// Document 路由组，需要认证
		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			documentHandler := handler.NewDocumentHandler(documentService)
			documents.POST("", documentHandler.Upload)
			documents.POST("/extract", documentHandler.Extract)
			documents.GET("", documentHandler.List)
			documents.DELETE("/:documentId", documentHandler.Delete)
		}

		// Chat 路由 (WebSocket)
		r.GET("/chat/:token", handler.NewChatHandler(chatService, userService, jwtManager).Handle)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
