package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	appsvc "tutorllm/internal/app"
	"tutorllm/internal/cache"
	"tutorllm/internal/config"
	"tutorllm/internal/model"
	mysqlClient "tutorllm/internal/platform/mysql"
	rabbitmqClient "tutorllm/internal/platform/rabbitmq"
	redisClient "tutorllm/internal/platform/redis"
	"tutorllm/internal/repository"
	"tutorllm/internal/worker"
)

type App struct {
	Config        *config.Config
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Publisher     *rabbitmqClient.MessagePublisher
	MessageWorker *worker.MessagePersistWorker
	Study         *Study

	Auth  *appsvc.AuthService
	Chats *appsvc.ChatService

	StartedAt time.Time
}

// New wires the server: relational store, optional cache and queue, the
// study components and the services on top of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.ChatSession{}, &model.ChatMessage{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	var historyCache appsvc.HistoryCache
	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = redisCli
		historyCache = cache.NewHistoryCache(
			redisCli,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
	}

	var publisher appsvc.AppendPublisher
	if cfg.Chat.PersistMode == config.PersistQueue {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.MQConn = mqConn
		a.Publisher = rabbitmqClient.NewMessagePublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue)
		publisher = a.Publisher
	}

	chatRepo := repository.NewChatRepository(mysqlDB)
	a.Chats = appsvc.NewChatService(chatRepo, historyCache, publisher)
	a.Auth = appsvc.NewAuthService(repository.NewUserRepository(mysqlDB), cfg.Auth.JWTSecret, cfg.JWTExpiration())

	if a.MQConn != nil {
		a.MessageWorker = worker.NewMessagePersistWorker(a.MQConn, a.Chats, cfg.RabbitMQ.MessagePersistQueue)
		if err := a.MessageWorker.Start(ctx); err != nil {
			return fmt.Errorf("start message worker failed: %w", err)
		}
	}

	study, err := NewStudy(ctx, cfg)
	if err != nil {
		return err
	}
	a.Study = study
	study.bindChats(a.Chats, time.Duration(cfg.Chat.PersistTimeoutSeconds)*time.Second)

	slog.Info("application wired",
		"retrieval_backend", cfg.Retrieval.Backend,
		"persist_mode", cfg.Chat.PersistMode,
		"redis", cfg.Redis.Enabled,
	)
	return nil
}

func (a *App) Close() error {
	var errList []error
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errList = append(errList, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.Study != nil {
		if err := a.Study.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
