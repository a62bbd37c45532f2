package stores

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"dabubble/internal/gateway/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	set  *Set
	docs *memory.Documents
	auth *memory.Auth
}

func bootstrap(t *testing.T, opts ...Option) fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	docs := memory.NewDocuments()
	auth := memory.NewAuth(memory.WithBcryptCost(bcrypt.MinCost))
	set := NewSet(logger.Sugar(), docs, auth, opts...)
	t.Cleanup(set.Close)

	return fixture{set: set, docs: docs, auth: auth}
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

// tickingClock returns a clock advancing one second per call
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type recorded struct {
	store, command string
	failed         bool
}

type testRecorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *testRecorder) RecordCommand(store, command string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{store: store, command: command, failed: err != nil})
}

func (r *testRecorder) last() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

func codeFromLink(t *testing.T, link string) string {
	u, err := url.Parse(link)
	require.NoError(t, err)
	code := u.Query().Get("oobCode")
	require.NotEmpty(t, code)
	return code
}
