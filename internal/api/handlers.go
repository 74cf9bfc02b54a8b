package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/store"
	"github.com/sells-group/townmap/internal/syncer"
)

type townsResponse struct {
	Fingerprint string             `json:"fingerprint"`
	Count       int                `json:"count"`
	Towns       []model.TownRecord `json:"towns"`
}

type statusResponse struct {
	model.SyncState
	Icon    string `json:"icon"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListTowns returns every town sorted by name. ?q= filters by a
// case-insensitive name substring.
func (s *Server) handleListTowns(w http.ResponseWriter, r *http.Request) {
	v := s.ctrl.Store().Current()
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	towns := sortedTowns(v.Towns)
	if q != "" {
		filtered := towns[:0]
		for _, t := range towns {
			if strings.Contains(strings.ToLower(t.Name), q) {
				filtered = append(filtered, t)
			}
		}
		towns = filtered
	}

	writeJSON(w, http.StatusOK, townsResponse{
		Fingerprint: string(v.Fingerprint),
		Count:       len(towns),
		Towns:       towns,
	})
}

func (s *Server) handleGetTown(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = norm.NFC.String(strings.TrimSpace(name))

	rec, ok := s.ctrl.Store().Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("town %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGeoJSON renders the snapshot as a FeatureCollection of points,
// one per town, for map marker layers.
func (s *Server) handleGeoJSON(w http.ResponseWriter, _ *http.Request) {
	v := s.ctrl.Store().Current()
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(v.Towns))}

	for _, t := range sortedTowns(v.Towns) {
		fc.Features = append(fc.Features, townFeature(t))
	}

	body, err := json.Marshal(&fc)
	if err != nil {
		zap.L().Error("api: marshal geojson", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode geojson")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("ETag", strconv.Quote(string(v.Fingerprint)))
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}

func townFeature(t model.TownRecord) *geojson.Feature {
	return &geojson.Feature{
		ID:       t.Name,
		Geometry: geom.NewPointFlat(geom.XY, []float64{t.Longitude, t.Latitude}).SetSRID(4326),
		Properties: map[string]any{
			"name":                      t.Name,
			"security_advisory_local":   t.SecurityAdvisoryLocal,
			"security_advisory_foreign": t.SecurityAdvisoryForeign,
			"distance_label":            t.DistanceLabel,
			"route_url":                 t.RouteURL,
			"tourism_url":               t.TourismURL,
			"has_route":                 t.HasRoute(),
			"has_tourism_site":          t.HasTourismSite(),
		},
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.ctrl.State()
	display := state.LastStatus
	if state.Updating {
		display = model.SyncStatusUpdating
	}
	icon, msg := syncer.StatusDisplay(display)
	writeJSON(w, http.StatusOK, statusResponse{SyncState: state, Icon: icon, Message: msg})
}

// handleTrigger starts a manual cycle. A cycle already in flight makes
// the request a no-op.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.TriggerAsync(r.Context()) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	filter := store.CycleFilter{Status: model.SyncStatus(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	cycles, err := s.opts.History.ListCycles(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list cycles", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list cycles")
		return
	}
	if cycles == nil {
		cycles = []model.CycleEntry{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

// handleEvents streams one "update" event per accepted snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates := s.opts.Events.Subscribe(r.Context(), 4)

	state, _ := json.Marshal(s.ctrl.State())
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", state) //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case n, ok := <-updates:
			if !ok {
				return
			}
			data, _ := json.Marshal(n)
			fmt.Fprintf(w, "id: %s\nevent: update\ndata: %s\n\n", n.Fingerprint, data) //nolint:errcheck
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sortedTowns(snap model.Snapshot) []model.TownRecord {
	towns := snap.Records()
	sort.Slice(towns, func(i, j int) bool { return towns[i].Name < towns[j].Name })
	return towns
}
