package server

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/sync-alarm/config"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return &Config{
		Host:         "127.0.0.1",
		Port:         0,
		Env:          "test",
		DatabasePath: filepath.Join(t.TempDir(), "alarms.sqlite"),
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Router().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}

	if srv.ShutdownContext().Err() == nil {
		t.Error("shutdown context not cancelled")
	}
	// late subscribers get a closed channel
	ch, unsubscribe := srv.Notifications().Subscribe()
	defer unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("subscription after shutdown is open")
	}
}

func TestServer_ComponentsShareOneBroadcast(t *testing.T) {
	srv, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown(context.Background())

	events, unsubscribe := srv.Notifications().Subscribe()
	defer unsubscribe()

	if _, err := srv.Alarms().Create(context.Background(), "Wake", "07:00"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := srv.Presence().Register("s1", "main"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := []string{"ALARM_CREATED", "PRESENCE_UPDATE"}
	for _, w := range want {
		select {
		case msg := <-events:
			if string(msg.Type) != w {
				t.Errorf("got %s, want %s", msg.Type, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s broadcast", w)
		}
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(&config.Config{Port: 3000, Host: "0.0.0.0", Env: "production", DatabasePath: "x.db", SendBuffer: 8})
	if cfg.IsDevelopment() {
		t.Error("production config reports development")
	}
	dbCfg := cfg.ToDBConfig()
	if dbCfg.Path != "x.db" || dbCfg.MaxOpenConns != 1 {
		t.Errorf("unexpected db config %+v", dbCfg)
	}
}
