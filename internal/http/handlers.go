package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/service"
	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

type runRequest struct {
	Input map[string]any `json:"input"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.deps.Logger.Errorf("Request %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, r, status, err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createSequence(w http.ResponseWriter, r *http.Request) {
	var seq models.Sequence
	if err := decodeBody(r, &seq, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.deps.Sequences.CreateSequence(r.Context(), seq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) listSequences(w http.ResponseWriter, r *http.Request) {
	sequences, err := s.deps.Sequences.ListSequences(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sequences)
}

func (s *Server) getSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := s.deps.Sequences.GetSequence(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) updateSequence(w http.ResponseWriter, r *http.Request) {
	var seq models.Sequence
	if err := decodeBody(r, &seq, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	seq.ID = mux.Vars(r)["id"]
	if err := s.deps.Sequences.UpdateSequence(r.Context(), seq); err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.deps.Sequences.GetSequence(r.Context(), seq.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "field 'active' is required")
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.deps.Sequences.SetActive(r.Context(), id, *req.Active); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "active": *req.Active})
}

// runSequence executes the sequence while the client waits and returns the
// finished execution. A failed step still yields 200 with status "failed".
func (s *Server) runSequence(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	exec, err := s.deps.Runner.Run(r.Context(), mux.Vars(r)["id"], req.Input, service.ModeInteractive)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// enqueueSequence hands the run to the worker pool and returns at once.
func (s *Server) enqueueSequence(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		writeError(w, r, http.StatusServiceUnavailable, "background execution is not enabled")
		return
	}
	var req runRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.deps.Pool.Submit(r.Context(), mux.Vars(r)["id"], req.Input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.deps.Sequences.ListExecutions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Sequences.GetExecution(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
