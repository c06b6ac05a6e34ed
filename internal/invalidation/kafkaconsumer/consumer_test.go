package kafkaconsumer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/IBM/sarama"
)

type fakeTarget struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	cleared   []string
}

func (f *fakeTarget) ClearCache(_ context.Context, layer string) error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	f.mu.Lock()
	f.cleared = append(f.cleared, layer)
	f.mu.Unlock()
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "wfs-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

const (
	updateEvent = `{"version":1,"op":"update","layer":"layer-50772","ts":"2025-10-26T12:30:45Z"}`
	clearEvent  = `{"version":1,"op":"clear","layer":"*","ts":"2025-10-26T12:30:45Z"}`
)

func newConsumerForTest(target Invalidator) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "wfs-invalidation", GroupID: "g"}
	return New(cfg, slog.Default(), target)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	target := &fakeTarget{}
	c := newConsumerForTest(target)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "wfs-invalidation", Offset: 10, Value: []byte(updateEvent)}
	ch <- &sarama.ConsumerMessage{Topic: "wfs-invalidation", Offset: 11, Value: []byte(clearEvent)}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(target.cleared) != 2 || target.cleared[0] != "layer-50772" || target.cleared[1] != "" {
		t.Fatalf("cleared=%q", target.cleared)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	target := &fakeTarget{}
	target.failFirst.Store(true)
	c := newConsumerForTest(target)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "wfs-invalidation", Offset: 5, Value: []byte(updateEvent)}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestUndecodableEventIsNotMarked(t *testing.T) {
	target := &fakeTarget{}
	c := newConsumerForTest(target)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"version":1,"op":"update"}`)}
	close(ch)

	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected processing error")
	}
	if len(s.marked) != 0 || len(target.cleared) != 0 {
		t.Fatalf("marked=%v cleared=%v", s.marked, target.cleared)
	}
}

func TestFailedClearNamesClaimAndLogsAssignment(t *testing.T) {
	target := &fakeTarget{}
	target.failFirst.Store(true)
	c := newConsumerForTest(target)

	var buf bytes.Buffer
	g := &groupHandler{process: c.ProcessOne, logger: slog.New(slog.NewTextHandler(&buf, nil))}
	s := &sess{ctx: t.Context()}
	if err := g.Setup(s); err != nil {
		t.Fatalf("setup: %v", err)
	}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- &sarama.ConsumerMessage{Partition: 4, Offset: 9, Value: []byte(updateEvent)}
	close(ch)

	err := g.ConsumeClaim(s, &claim{part: 4, msgs: ch})
	if err == nil || !strings.Contains(err.Error(), "wfs-invalidation/4@9") {
		t.Fatalf("err=%v want claim position", err)
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v", s.marked)
	}
	if !strings.Contains(buf.String(), "invalidation partitions assigned") {
		t.Fatalf("assignment not logged: %s", buf.String())
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	c := newConsumerForTest(&fakeTarget{})
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: []byte(updateEvent)}
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: []byte(updateEvent)}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 1, Value: []byte(updateEvent)}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 2, Value: []byte(updateEvent)}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestStaleEventsAreSkippedButMarked(t *testing.T) {
	target := &fakeTarget{}
	c := newConsumerForTest(target)
	s := &sess{ctx: t.Context()}

	older := `{"version":1,"op":"delete","layer":"layer-50772","ts":"2025-10-26T12:00:00Z"}`
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(updateEvent)}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(updateEvent)}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(older)}
	close(ch)

	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("marked=%v want 3 offsets", s.marked)
	}
	if len(target.cleared) != 1 {
		t.Fatalf("cleared=%v want a single clear", target.cleared)
	}
}

func TestVersionDedupe(t *testing.T) {
	d := newVersionDedupe(2)
	if d.seen("a", 5) {
		t.Fatalf("unseen key reported")
	}
	d.record("a", 5)
	d.record("a", 3)
	if !d.seen("a", 5) || !d.seen("a", 4) || d.seen("a", 6) {
		t.Fatalf("dedupe ordering broken")
	}
}
