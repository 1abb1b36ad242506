package bootstrap

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/domain/model"
	"github.com/runfrog/runfrog/internal/testutil"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "http and worker",
			modes: []config.ServiceMode{config.ServiceModeHTTP, config.ServiceModeWorker},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeWorker,
				config.ServiceModeReaper,
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			assert.Equal(t, tt.want, errorChannelCapacity(enabled))
			assert.Equal(t, tt.want+1, errorChannelBufferSize(enabled))
		})
	}
}

func memoryConfig(t *testing.T, services string) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		Services: services,
		Queue: config.QueueConfig{
			BrokerURL:        "memory://",
			ResultBackendURL: "memory://",
			StorageDir:       t.TempDir(),
			Name:             "frog",
			ResultTTL:        time.Hour,
			MaxUploadBytes:   1 << 20,
			FetchTimeout:     time.Second,
		},
		Analyzer: config.AnalyzerConfig{Command: "runfrog-analyze"},
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0", CompressionLevel: 6},
		GUI:      config.GUIConfig{PollInterval: time.Second, ResultTimeout: time.Minute},
		Worker:   config.WorkerConfig{Concurrency: 2, ReceiveWait: 50 * time.Millisecond},
		Reaper:   config.ReaperConfig{Interval: time.Minute, BatchSize: 100},
	}
	return cfg
}

func TestNewServices(t *testing.T) {
	t.Run("http only has no executor", func(t *testing.T) {
		cfg := memoryConfig(t, "http")
		q, err := ConnectQueue(context.Background(), QueueDeps{Config: cfg})
		require.NoError(t, err)
		t.Cleanup(func() { _ = q.Close() })

		svc, err := NewServices(&ServiceDeps{Config: cfg, Queue: q})
		require.NoError(t, err)
		assert.NotNil(t, svc.Submissions)
		assert.NotNil(t, svc.Tasks)
		assert.Nil(t, svc.Executor)
		assert.Nil(t, svc.Observability.Sink())
	})

	t.Run("worker builds executor", func(t *testing.T) {
		cfg := memoryConfig(t, "http,worker")
		q, err := ConnectQueue(context.Background(), QueueDeps{Config: cfg})
		require.NoError(t, err)
		t.Cleanup(func() { _ = q.Close() })

		svc, err := NewServices(&ServiceDeps{Config: cfg, Queue: q})
		require.NoError(t, err)
		assert.NotNil(t, svc.Executor)
	})

	t.Run("missing queue", func(t *testing.T) {
		_, err := NewServices(&ServiceDeps{Config: memoryConfig(t, "http")})
		require.Error(t, err)
	})
}

func TestRunServicesWithShutdown_WorkerExecutesTasks(t *testing.T) {
	cfg := memoryConfig(t, "worker,reaper")
	q, err := ConnectQueue(context.Background(), QueueDeps{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	svc, err := NewServices(&ServiceDeps{Config: cfg, Queue: q, Analyzer: &testutil.StubAnalyzer{}})
	require.NoError(t, err)

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- RunServicesWithShutdown(&ServiceOrchestrationConfig{
			Config:   cfg,
			Services: svc,
			Signals:  signals,
		})
	}()

	id, err := svc.Submissions.SubmitContent(context.Background(), []byte("<sbml/>"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, getErr := svc.Tasks.Get(context.Background(), id)
		return getErr == nil && task.Status == model.TaskStatusSuccess
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, svc.Tasks.ArtifactExists(id))

	signals <- syscall.SIGTERM
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("services did not stop")
	}
}

func TestStartHTTPServer(t *testing.T) {
	cfg := memoryConfig(t, "http")
	q, err := ConnectQueue(context.Background(), QueueDeps{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	svc, err := NewServices(&ServiceDeps{Config: cfg, Queue: q})
	require.NoError(t, err)

	server, err := StartHTTPServer(&HTTPServerConfig{Config: cfg, Services: svc, Version: "test"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, getErr := http.Get("http://" + server.Addr + "/healthz")
		if getErr != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, ShutdownHTTPServer(ShutdownConfig{Context: context.Background(), Server: server}))
}

func TestRunServicesWithShutdown_Validation(t *testing.T) {
	require.Error(t, RunServicesWithShutdown(nil))
	require.Error(t, RunServicesWithShutdown(&ServiceOrchestrationConfig{}))
	require.Error(t, RunServicesWithShutdown(&ServiceOrchestrationConfig{
		Config: &config.AppConfig{Services: "bogus"},
	}))
}
