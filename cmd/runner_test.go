package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/server"
	"github.com/desertthunder/ridex/internal/services"
	"github.com/desertthunder/ridex/internal/shared"
	tu "github.com/desertthunder/ridex/internal/testing"
)

// testRunner builds a runner with an injected config so --config is never read.
func testRunner(t *testing.T, config *shared.Config, api *services.RideService) (*Runner, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	if config == nil {
		config = shared.DefaultConfig()
	}
	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: filepath.Join(t.TempDir(), "config.toml"),
		API:        api,
		Logger:     shared.NewLogger(io.Discard),
		Output:     output,
	})
	return runner, output
}

func run(r *Runner, args ...string) error {
	return r.app().Run(context.Background(), append([]string{"ridex"}, args...))
}

// rideServer starts an in-memory ride server and returns a client for it.
func rideServer(t *testing.T) (*httptest.Server, *services.RideService) {
	t.Helper()
	config := shared.DefaultConfig().Server
	config.Persist = false
	srv := server.New(config, nil, shared.NewLogger(io.Discard))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return ts, services.NewRideService(ts.URL, ts.Client())
}

// seedDatabase records one ride with two riders and returns a config pointing at it.
func seedDatabase(t *testing.T) *shared.Config {
	t.Helper()
	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(t.TempDir(), "ridex.db")

	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	rec := server.NewDBRecorder(db, shared.NewLogger(io.Discard))
	alice := models.Session{SessionID: "s-alice", Username: "alice", RideID: "ABC123", IsAdmin: true}
	bob := models.Session{SessionID: "s-bob", Username: "bob", RideID: "ABC123"}
	rec.RideCreated(alice)
	rec.SessionStarted(alice)
	rec.SessionStarted(bob)

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	rec.LocationReported(alice, models.Location{Lat: 51.5, Lng: -0.12}, base)
	rec.LocationReported(bob, models.Location{Lat: 51.6, Lng: -0.12}, base.Add(time.Second))
	rec.LocationReported(alice, models.Location{Lat: 51.51, Lng: -0.12}, base.Add(time.Minute))
	return config
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			api := services.NewRideService("http://ride.test", httpClient)

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				API:        api,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.api != api {
				t.Error("expected api to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("ride api is built from the client config", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Client.BaseURL = "http://ride.test:9000/"
			runner := NewRunner(RunnerOpts{Config: config})

			api := runner.rideAPI(context.Background())
			if api.BaseURL() != "http://ride.test:9000" {
				t.Errorf("unexpected base url %s", api.BaseURL())
			}
			if runner.rideAPI(context.Background()) != api {
				t.Error("expected the client to be reused")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			// channels cannot be marshaled to JSON
			err := runner.writeJSON(make(chan int), false)
			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, want := range []string{"serve", "setup", "ride", "api", "tui"} {
			if !names[want] {
				t.Errorf("expected %s command", want)
			}
		}
	})
}

func TestConfigLoading(t *testing.T) {
	t.Run("loads --config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("[database]\npath = \"/nowhere/ridex.db\"\n"), 0644); err != nil {
			t.Fatal(err)
		}

		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: &bytes.Buffer{}})
		// the missing directory fails the action, after the config was loaded
		_ = run(runner, "--config", path, "setup", "database")

		if runner.config.Database.Path != "/nowhere/ridex.db" {
			t.Errorf("expected config to be loaded, got %s", runner.config.Database.Path)
		}
		if runner.config.Client.BaseURL == "" {
			t.Error("keys missing from the file should keep defaults")
		}
	})

	t.Run("missing file keeps defaults", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: &bytes.Buffer{}})
		dir := t.TempDir()
		err := run(runner, "--config", filepath.Join(dir, "missing.toml"), "ride", "join")

		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected missing argument, got %v", err)
		}
	})

	t.Run("invalid file fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("[server\nport = "), 0644); err != nil {
			t.Fatal(err)
		}

		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: &bytes.Buffer{}})
		if err := run(runner, "--config", path, "setup", "database"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected invalid config, got %v", err)
		}
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("database", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Database.Path = filepath.Join(t.TempDir(), "ridex.db")
		runner, _ := testRunner(t, config, nil)

		if err := run(runner, "setup", "database"); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}
		tu.AssertFileExists(t, config.Database.Path)
	})

	t.Run("config", func(t *testing.T) {
		runner, output := testRunner(t, nil, nil)

		if err := run(runner, "setup", "config"); err != nil {
			t.Fatalf("setup config failed: %v", err)
		}
		tu.AssertFileExists(t, runner.configPath)
		if !strings.Contains(tu.MustReadFile(t, runner.configPath), "[server]") {
			t.Error("expected the template to be written")
		}
		if !strings.Contains(output.String(), "Configuration written") {
			t.Errorf("unexpected output %s", output.String())
		}

		if err := run(runner, "setup", "config"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected an error for an existing file, got %v", err)
		}
	})
}

func TestRideCommands(t *testing.T) {
	t.Run("users of one ride", func(t *testing.T) {
		_, api := rideServer(t)
		ctx := context.Background()
		admin, err := api.Login(ctx, "alice", models.ActionCreate, "")
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if _, err := api.Login(ctx, "bob", models.ActionJoin, admin.RideID); err != nil {
			t.Fatalf("join failed: %v", err)
		}

		runner, output := testRunner(t, nil, api)
		if err := run(runner, "ride", "users", "--ride-id", strings.ToLower(admin.RideID), "--format", "csv"); err != nil {
			t.Fatalf("ride users failed: %v", err)
		}

		result := output.String()
		if !strings.Contains(result, "Session ID,Username") || !strings.Contains(result, "alice") || !strings.Contains(result, "bob") {
			t.Errorf("unexpected output %s", result)
		}
	})

	t.Run("users of every ride", func(t *testing.T) {
		_, api := rideServer(t)
		ctx := context.Background()
		for _, name := range []string{"alice", "carol"} {
			if _, err := api.Login(ctx, name, models.ActionCreate, ""); err != nil {
				t.Fatal(err)
			}
		}

		runner, output := testRunner(t, nil, api)
		if err := run(runner, "ride", "users"); err != nil {
			t.Fatalf("ride users failed: %v", err)
		}
		if result := output.String(); !strings.Contains(result, "Ride: all") || !strings.Contains(result, "Riders: 2") {
			t.Errorf("unexpected output %s", result)
		}
	})

	t.Run("users of an unknown ride", func(t *testing.T) {
		_, api := rideServer(t)
		runner, _ := testRunner(t, nil, api)

		if err := run(runner, "ride", "users", "--ride-id", "NOPE00"); !errors.Is(err, shared.ErrRideNotFound) {
			t.Errorf("expected ride not found, got %v", err)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		runner, _ := testRunner(t, nil, nil)
		if err := run(runner, "ride", "users", "--format", "yaml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("join needs a ride", func(t *testing.T) {
		runner, _ := testRunner(t, nil, nil)

		if err := run(runner, "ride", "join", "--username", "bob"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected missing argument, got %v", err)
		}
		if err := run(runner, "ride", "join", "--username", "bob", "--link", "http://ride.test/?other=1"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument for a link without a ride, got %v", err)
		}
	})

	t.Run("history", func(t *testing.T) {
		config := seedDatabase(t)
		runner, output := testRunner(t, config, nil)

		if err := run(runner, "ride", "history", "--ride-id", "abc123"); err != nil {
			t.Fatalf("ride history failed: %v", err)
		}
		result := output.String()
		if !strings.Contains(result, "Points: 3") || !strings.Contains(result, "1. alice - 2 points") {
			t.Errorf("unexpected output %s", result)
		}
	})

	t.Run("history of one session", func(t *testing.T) {
		config := seedDatabase(t)
		runner, output := testRunner(t, config, nil)

		if err := run(runner, "ride", "history", "--ride-id", "ABC123", "--session-id", "s-bob", "--format", "csv"); err != nil {
			t.Fatalf("ride history failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(output.String()), "\n")
		if len(lines) != 2 || !strings.Contains(lines[1], "s-bob,bob") {
			t.Errorf("expected bob's single point, got %v", lines)
		}
	})

	t.Run("history to a file", func(t *testing.T) {
		config := seedDatabase(t)
		runner, output := testRunner(t, config, nil)
		path := filepath.Join(t.TempDir(), "history.md")

		if err := run(runner, "ride", "history", "--ride-id", "ABC123", "--format", "md", "--output", path); err != nil {
			t.Fatalf("ride history failed: %v", err)
		}
		if !strings.Contains(tu.MustReadFile(t, path), "# Ride ABC123 history") {
			t.Error("expected a markdown export")
		}
		if !strings.Contains(output.String(), path) {
			t.Errorf("expected the path to be printed, got %s", output.String())
		}
	})

	t.Run("history of an unknown ride", func(t *testing.T) {
		config := seedDatabase(t)
		runner, _ := testRunner(t, config, nil)

		if err := run(runner, "ride", "history", "--ride-id", "ZZZ999"); !errors.Is(err, shared.ErrRideNotFound) {
			t.Errorf("expected ride not found, got %v", err)
		}
	})

	t.Run("export every ride", func(t *testing.T) {
		config := seedDatabase(t)
		runner, output := testRunner(t, config, nil)
		dir := filepath.Join(t.TempDir(), "out")

		if err := run(runner, "ride", "export", "--dir", dir, "--format", "json"); err != nil {
			t.Fatalf("ride export failed: %v", err)
		}
		tu.AssertFileExists(t, filepath.Join(dir, "ABC123_history.json"))
		tu.AssertFileExists(t, filepath.Join(dir, "export_manifest.json"))
		if !strings.Contains(output.String(), "1 ok, 0 failed") {
			t.Errorf("unexpected output %s", output.String())
		}
	})
}

func TestNewTracker(t *testing.T) {
	t.Run("unusable map falls back to none with one warning", func(t *testing.T) {
		_, api := rideServer(t)
		config := shared.DefaultConfig()
		config.Client.MapProvider = "google"

		logs := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{
			Config:     config,
			ConfigPath: filepath.Join(t.TempDir(), "config.toml"),
			API:        api,
			Logger:     shared.NewLogger(logs),
			Output:     &bytes.Buffer{},
		})

		tr, err := runner.newTracker(context.Background(), nil, nil)
		if err != nil {
			t.Fatalf("newTracker() error = %v", err)
		}
		if name := tr.Map().Name(); name != "none" {
			t.Errorf("expected the none map, got %s", name)
		}
		if n := strings.Count(logs.String(), "continuing without"); n != 1 {
			t.Errorf("expected one map warning, got %d in:\n%s", n, logs.String())
		}
	})
}

func TestAPIGet(t *testing.T) {
	t.Run("prints JSON", func(t *testing.T) {
		_, api := rideServer(t)
		runner, output := testRunner(t, nil, api)

		if err := run(runner, "api", "get", "healthz"); err != nil {
			t.Fatalf("api get failed: %v", err)
		}
		if !strings.Contains(output.String(), `"status": "ok"`) {
			t.Errorf("unexpected output %s", output.String())
		}
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		_, api := rideServer(t)
		runner, _ := testRunner(t, nil, api)

		if err := run(runner, "api", "get", "/api/ride/NOPE00/users"); !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected API request error, got %v", err)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		runner, _ := testRunner(t, nil, nil)
		if err := run(runner, "api", "get"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected missing argument, got %v", err)
		}
	})
}
