package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/config"
	"teledrive-go/pkg/tasks"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type scriptedProcessor struct {
	failures map[string]int
	attempts []int
}

func (p *scriptedProcessor) Process(_ context.Context, task tasks.RelayTask) error {
	p.attempts = append(p.attempts, task.Attempt)
	if p.failures[task.FileID] > 0 {
		p.failures[task.FileID]--
		return errors.New("relay failed")
	}
	return nil
}

func message(t *testing.T, offset int64, fileID string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.RelayTask{FileID: fileID})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("not json")},
		message(t, 2, "flaky"),
		message(t, 3, "broken"),
	}}
	proc := &scriptedProcessor{failures: map[string]int{"flaky": 1, "broken": 10}}
	c := newConsumer(reader, nil, 3, proc)
	c.backoff = time.Millisecond

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	// flaky: 失败一次后成功；broken: 三次后放弃
	assert.Equal(t, []int{1, 2, 1, 2, 3}, proc.attempts)
	assert.True(t, reader.closed)
	assert.Empty(t, c.counter.local)
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, brokers(config.KafkaConfig{Brokers: "k1:9092, k2:9092,"}))
	assert.Empty(t, brokers(config.KafkaConfig{}))
}
