package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/observability"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome/feed"
	"github.com/signalsfoundry/cgs-simulator/internal/scenario"
)

func loadScenario(path string) (*scenario.Scenario, error) {
	s, err := scenario.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}
	return s, nil
}

// serveHTTP exposes /metrics and, when hub is set, the /feed websocket.
func serveHTTP(addr string, collector *observability.SimCollector, hub *feed.Hub, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	if hub != nil {
		mux.Handle("/feed", hub)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving metrics and outcome feed", logging.String("addr", addr))
	return srv
}

// offset renders t relative to the scenario epoch.
func offset(s *scenario.Scenario, t time.Time) string {
	return "+" + t.Sub(s.Epoch).String()
}
