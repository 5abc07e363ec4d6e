package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/splax/kubehost/internal/naming"
	"github.com/splax/kubehost/internal/service/deploy"
	"github.com/splax/kubehost/internal/ws"
)

type scaleRequest struct {
	Replicas *int32 `json:"replicas"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	components := make(map[string]any)
	for name, err := range r.deploy.Health(ctx) {
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	var payload deploy.Request
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	record, err := r.deploy.Submit(req.Context(), payload)
	if err != nil {
		r.fail(w, err)
		return
	}
	r.writeJSON(w, http.StatusAccepted, record)
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	apps, err := r.deploy.List(req.Context())
	if err != nil {
		r.fail(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, apps)
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	app, err := r.deploy.Get(req.Context(), chi.URLParam(req, "app"))
	if err != nil {
		r.fail(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, app)
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "app")
	if err := r.deploy.Delete(req.Context(), name); err != nil {
		r.fail(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "app": name})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	snap, err := r.deploy.Status(req.Context(), chi.URLParam(req, "app"))
	if err != nil {
		r.fail(w, err)
		return
	}
	if req.URL.Query().Get("format") == "yaml" {
		data, err := snap.YAML()
		if err != nil {
			r.fail(w, err)
			return
		}
		writeYAML(w, data)
		return
	}
	r.writeJSON(w, http.StatusOK, snap)
}

func (r *Router) handleScale(w http.ResponseWriter, req *http.Request) {
	var payload scaleRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Replicas == nil {
		r.writeError(w, http.StatusBadRequest, "replicas required")
		return
	}
	res, err := r.deploy.Scale(req.Context(), chi.URLParam(req, "app"), *payload.Replicas)
	if err != nil {
		r.fail(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleManifests(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	set, err := r.deploy.Preview(req.Context(), chi.URLParam(req, "app"), query.Get("type"), query.Get("image"))
	if err != nil {
		r.fail(w, err)
		return
	}
	data, err := set.YAML()
	if err != nil {
		r.fail(w, err)
		return
	}
	writeYAML(w, data)
}

func (r *Router) handleClusterApps(w http.ResponseWriter, req *http.Request) {
	entries, err := r.deploy.ClusterApps(req.Context())
	if err != nil {
		r.fail(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		r.writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	name, err := naming.Sanitize(chi.URLParam(req, "app"))
	if err != nil {
		r.fail(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(name, client)
	go func() {
		defer func() {
			r.hub.Unregister(name, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func writeYAML(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
