package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lithium-next/lithium-core/internal/records"
)

// handleListSequences lists sequences newest first, optionally filtered by
// ?state=.
func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	state := records.SequenceState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeBadRequest(w, "unknown state "+strconv.Quote(string(state)))
		return
	}

	var seqs []records.Sequence
	err := s.withStore(func() error {
		var err error
		seqs, err = s.sequences.List(r.Context(), state)
		return err
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if seqs == nil {
		seqs = []records.Sequence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequences": seqs, "count": len(seqs)})
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var seq records.Sequence
	err := s.withStore(func() error {
		var err error
		seq, err = s.sequences.Get(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

// setStateRequest is the body of PUT /sequences/{id}/state.
type setStateRequest struct {
	State records.SequenceState `json:"state"`
}

func (s *Server) handleSetSequenceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if !req.State.Valid() {
		writeBadRequest(w, "unknown state "+strconv.Quote(string(req.State)))
		return
	}

	var seq records.Sequence
	err := s.withStore(func() error {
		if err := s.sequences.SetState(r.Context(), id, req.State); err != nil {
			return err
		}
		var err error
		seq, err = s.sequences.Get(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.withStore(func() error { return s.sequences.Delete(r.Context(), id) }); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDevices lists device configurations. ?type= filters by device
// type; ?enabled=true returns only enabled ones.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceType := q.Get("type")

	onlyEnabled := false
	if v := q.Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "enabled must be a boolean")
			return
		}
		onlyEnabled = b
	}

	var devices []records.DeviceConfig
	err := s.withStore(func() error {
		var err error
		switch {
		case deviceType != "":
			devices, err = s.devices.ListByType(r.Context(), deviceType)
		case onlyEnabled:
			devices, err = s.devices.ListEnabled(r.Context())
		default:
			devices, err = s.devices.List(r.Context())
		}
		return err
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	out := make([]records.DeviceConfig, 0, len(devices))
	for _, d := range devices {
		if onlyEnabled && !d.Enabled {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// handleGetDevice returns one device configuration, read through the cache.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var d records.DeviceConfig
	err := s.withStore(func() error {
		var err error
		d, err = s.devices.Get(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// setEnabledRequest is the body of PUT /devices/{id}/enabled.
type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetDeviceEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	var d records.DeviceConfig
	err := s.withStore(func() error {
		if err := s.devices.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
			return err
		}
		var err error
		d, err = s.devices.Get(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
