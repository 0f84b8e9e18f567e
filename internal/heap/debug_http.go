package heap

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"
)

// configDTO is the JSON shape of the sizing configuration on the debug
// surface, mirroring the config file's millisecond-based fields.
type configDTO struct {
	EvaluationIntervalMillis int64  `json:"evaluation_interval_ms"`
	UncommitDelayMillis      int64  `json:"uncommit_delay_ms"`
	MinRegionsToUncommit     int    `json:"min_regions_to_uncommit"`
	Enabled                  bool   `json:"enabled"`
	Version                  uint64 `json:"version"`
}

// StartDebugHTTP starts a lightweight HTTP server exposing the heap's
// diagnostic and management endpoints:
//
//	GET  /heap    -> JSON HeapSnapshot of every committed region.
//	GET  /config  -> JSON of the current sizing configuration.
//	PUT  /config  -> apply a dynamic configuration update; invalid
//	                 values are refused with 400 and the previous
//	                 configuration stays in force.
//
// It returns the bound address (useful with port 0) and a shutdown
// function compatible with http.Server.Shutdown.
func StartDebugHTTP(hm *HeapManager, store *ConfigStore, addr string) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(hm.Snapshot())
	})

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg := store.Snapshot()
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(configDTO{
				EvaluationIntervalMillis: cfg.EvaluationInterval.Milliseconds(),
				UncommitDelayMillis:      cfg.UncommitDelay.Milliseconds(),
				MinRegionsToUncommit:     cfg.MinRegionsToUncommit,
				Enabled:                  cfg.Enabled,
				Version:                  store.Version(),
			})
		case http.MethodPut, http.MethodPost:
			var dto configDTO
			if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
				http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
				return
			}
			cfg := SizingConfig{
				EvaluationInterval:   time.Duration(dto.EvaluationIntervalMillis) * time.Millisecond,
				UncommitDelay:        time.Duration(dto.UncommitDelayMillis) * time.Millisecond,
				MinRegionsToUncommit: dto.MinRegionsToUncommit,
				Enabled:              dto.Enabled,
			}
			if err := store.Update(cfg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	bound := ln.Addr().String()
	go func() {
		_ = srv.Serve(ln)
	}()
	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
	return bound, stop, nil
}
