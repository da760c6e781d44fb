// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"teledrive-go/internal/config"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/tasks"
)

const attemptsTTL = 24 * time.Hour

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把转发任务写入 Kafka，实现 tasks.Dispatcher。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Dispatch 发送一个转发任务到 Kafka，以文件 ID 作为消息 key。
func (p *Producer) Dispatch(ctx context.Context, task tasks.RelayTask) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.FileID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// attemptCounter 统计每个文件的失败次数。Redis 可用时计数跨进程共享，否则只在内存中。
type attemptCounter struct {
	rdb *redis.Client

	mu    sync.Mutex
	local map[string]int64
}

func attemptsKey(fileID string) string {
	return fmt.Sprintf("relay:attempts:%s", fileID)
}

func (c *attemptCounter) incr(ctx context.Context, fileID string) (int64, error) {
	if c.rdb == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.local[fileID]++
		return c.local[fileID], nil
	}
	key := attemptsKey(fileID)
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, attemptsTTL).Err()
	return attempts, nil
}

func (c *attemptCounter) reset(ctx context.Context, fileID string) {
	if c.rdb == nil {
		c.mu.Lock()
		delete(c.local, fileID)
		c.mu.Unlock()
		return
	}
	_ = c.rdb.Del(ctx, attemptsKey(fileID)).Err()
}

// Consumer 从 Kafka 读取转发任务并同步处理。
type Consumer struct {
	reader      messageReader
	processor   tasks.Processor
	maxAttempts int64
	backoff     time.Duration
	counter     *attemptCounter
}

// NewConsumer 创建消费者。rdb 可以为 nil。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, maxAttempts int, processor tasks.Processor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, rdb, maxAttempts, processor)
}

func newConsumer(r messageReader, rdb *redis.Client, maxAttempts int, processor tasks.Processor) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Consumer{
		reader:      r,
		processor:   processor,
		maxAttempts: int64(maxAttempts),
		backoff:     2 * time.Second,
		counter:     &attemptCounter{rdb: rdb, local: make(map[string]int64)},
	}
}

// Run 循环消费直到 ctx 取消或读取失败。
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Debugf("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.RelayTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.FileID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	for {
		attempt, err := c.counter.peek(ctx, task.FileID)
		if err == nil {
			task.Attempt = int(attempt) + 1
		}

		err = c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("转发任务处理成功: fileID=%s", task.FileID)
			c.counter.reset(ctx, task.FileID)
			c.commit(ctx, m)
			return
		}

		log.Errorf("转发任务失败: fileID=%s, Error: %v", task.FileID, err)
		attempts, incErr := c.counter.incr(ctx, task.FileID)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，消费者重启后重新投递
			log.Warnf("记录失败次数出错，暂不提交 offset: %v", incErr)
			return
		}
		if attempts >= c.maxAttempts {
			log.Errorf("转发任务多次失败(>=%d)，提交 offset 终止重试: fileID=%s", c.maxAttempts, task.FileID)
			c.counter.reset(ctx, task.FileID)
			c.commit(ctx, m)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func (c *attemptCounter) peek(ctx context.Context, fileID string) (int64, error) {
	if c.rdb == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.local[fileID], nil
	}
	n, err := c.rdb.Get(ctx, attemptsKey(fileID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
