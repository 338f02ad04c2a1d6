package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dc-tec/s3-wagon/internal/transport"
)

func TestLogAuditEvent(t *testing.T) {
	data := &sinkData{}
	logger := logr.New(&capturingSink{data: data})

	fields := map[string]string{
		"bucket":            "releases",
		"credential_source": "environment",
	}

	LogAuditEvent(logger, AuditSessionOpened, fields)

	require.Len(t, data.entries, 1)
	entry := data.entries[0]
	assert.Equal(t, "Session audit event", entry.msg)

	kv := entry.kvMap()
	assert.Equal(t, "true", kv["audit"])
	assert.Equal(t, AuditSessionOpened, kv["event_type"])
	assert.Equal(t, "releases", kv["bucket"])
	assert.Equal(t, "environment", kv["credential_source"])
}

func TestEventLogger(t *testing.T) {
	data := &sinkData{}
	l := NewEventLogger(logr.New(&capturingSink{data: data}))

	failure := errors.New("boom")
	events := []transport.Event{
		{Type: transport.EventInitiated, Request: transport.RequestPut, Resource: "a.txt", Key: "base/a.txt", LocalPath: "/tmp/a.txt"},
		{Type: transport.EventStarted, Request: transport.RequestPut, Resource: "a.txt"},
		{Type: transport.EventCompleted, Request: transport.RequestPut, Resource: "a.txt", Bytes: 42, Duration: time.Second},
		{Type: transport.EventError, Request: transport.RequestGet, Resource: "b.txt", Err: failure},
		{Type: transport.EventDebug, Request: transport.RequestList, Resource: "dir", Message: "listed children"},
	}
	for _, e := range events {
		l.TransferEvent(e)
	}

	require.Len(t, data.entries, 5)

	assert.Equal(t, "Transfer initiated", data.entries[0].msg)
	assert.Equal(t, 1, data.entries[0].level)
	kv := data.entries[0].kvMap()
	assert.Equal(t, "put", kv["request"])
	assert.Equal(t, "base/a.txt", kv["key"])
	assert.Equal(t, "/tmp/a.txt", kv["localPath"])

	assert.Equal(t, 1, data.entries[1].level)

	assert.Equal(t, "Transfer completed", data.entries[2].msg)
	assert.Equal(t, 0, data.entries[2].level)
	assert.Equal(t, int64(42), data.entries[2].kvMap()["bytes"])

	assert.Equal(t, "Transfer failed", data.entries[3].msg)
	assert.Equal(t, failure, data.entries[3].err)

	assert.Equal(t, "listed children", data.entries[4].msg)
	assert.Equal(t, 1, data.entries[4].level)
}

type logEntry struct {
	level         int
	msg           string
	err           error
	keysAndValues []interface{}
}

func (e logEntry) kvMap() map[string]interface{} {
	kvMap := make(map[string]interface{})
	for i := 0; i+1 < len(e.keysAndValues); i += 2 {
		if k, ok := e.keysAndValues[i].(string); ok {
			kvMap[k] = e.keysAndValues[i+1]
		}
	}
	return kvMap
}

type sinkData struct {
	entries []logEntry
}

// capturingSink implements logr.LogSink
type capturingSink struct {
	data     *sinkData
	localKVs []interface{}
}

func (s *capturingSink) Init(info logr.RuntimeInfo) {}
func (s *capturingSink) Enabled(level int) bool     { return true }
func (s *capturingSink) Info(level int, msg string, keysAndValues ...interface{}) {
	allKVs := append([]interface{}{}, s.localKVs...)
	allKVs = append(allKVs, keysAndValues...)
	s.data.entries = append(s.data.entries, logEntry{level: level, msg: msg, keysAndValues: allKVs})
}
func (s *capturingSink) Error(err error, msg string, keysAndValues ...interface{}) {
	allKVs := append([]interface{}{}, s.localKVs...)
	allKVs = append(allKVs, keysAndValues...)
	s.data.entries = append(s.data.entries, logEntry{msg: msg, err: err, keysAndValues: allKVs})
}
func (s *capturingSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	return &capturingSink{
		data:     s.data,
		localKVs: append(append([]interface{}{}, s.localKVs...), keysAndValues...),
	}
}
func (s *capturingSink) WithName(name string) logr.LogSink {
	return s
}
