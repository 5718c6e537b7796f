package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

type fakeReader struct {
	msgs   []kafka.Message
	errs   []error
	cancel context.CancelFunc
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return kafka.Message{}, err
	}
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

type fakeSink struct {
	mu   sync.Mutex
	got  []string
	fail string
}

func (s *fakeSink) PushEventJSON(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if string(raw) == s.fail {
		return errors.New("loki down")
	}
	s.got = append(s.got, string(raw))
	return nil
}

func TestRelay_ForwardsAndSkipsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		errs:   []error{errors.New("broker hiccup")},
		msgs:   []kafka.Message{{Value: []byte(`{"a":1}`)}, {Value: []byte(`bad`)}, {Value: []byte(`{"b":2}`)}},
		cancel: cancel,
	}
	sink := &fakeSink{fail: "bad"}

	(&Relay{Reader: reader, Sink: sink}).Run(ctx)

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, sink.got)
}
