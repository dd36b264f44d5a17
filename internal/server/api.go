package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nholik/stack-updater/internal/coordinator"
	"github.com/nholik/stack-updater/internal/reconcile"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/rs/zerolog"
)

const maxRequestBody = 64 << 10

// StackService is the per-stack operation surface exposed over HTTP.
type StackService interface {
	Stacks() []string
	Update(ctx context.Context, name string, opts update.Options) (update.Result, error)
	CheckVersion(ctx context.Context, name string) (update.VersionCheck, error)
	Last(ctx context.Context, name string) (update.Result, bool, error)
	History(ctx context.Context, name string) ([]update.Result, error)
}

type updateRequest struct {
	PerformPrune  bool   `json:"performPrune"`
	ForceUpdate   bool   `json:"forceUpdate"`
	HandleChanges string `json:"handleChanges"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewAPIHandler routes the stack API onto a new mux.
func NewAPIHandler(logger zerolog.Logger, service StackService) *http.ServeMux {
	mux := http.NewServeMux()
	registerAPIRoutes(mux, logger, service)
	return mux
}

func registerAPIRoutes(mux *http.ServeMux, logger zerolog.Logger, service StackService) {
	api := &apiHandler{logger: logger, service: service}
	mux.HandleFunc("GET /api/stacks", api.listStacks)
	mux.HandleFunc("POST /api/stacks/{stack}/update", api.runUpdate)
	mux.HandleFunc("GET /api/stacks/{stack}/version", api.checkVersion)
	mux.HandleFunc("GET /api/stacks/{stack}/last", api.lastRun)
	mux.HandleFunc("GET /api/stacks/{stack}/history", api.history)
}

type apiHandler struct {
	logger  zerolog.Logger
	service StackService
}

func (h *apiHandler) listStacks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"stacks": h.service.Stacks()})
}

func (h *apiHandler) runUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("stack")
	opts, err := decodeUpdateOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logger := h.logger.With().Str("stack", name).Logger()
	logger.Info().
		Bool("perform_prune", opts.PerformPrune).
		Bool("force_update", opts.ForceUpdate).
		Str("handle_changes", string(opts.HandleChanges)).
		Msg("update requested")

	result, err := h.service.Update(r.Context(), name, opts)
	if errors.Is(err, coordinator.ErrUnknownStack) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("run_id", result.RunID).Msg("update failed")
	}
	writeJSON(w, statusForResult(result), result)
}

func (h *apiHandler) checkVersion(w http.ResponseWriter, r *http.Request) {
	check, err := h.service.CheckVersion(r.Context(), r.PathValue("stack"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *apiHandler) lastRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("stack")
	result, ok, err := h.service.Last(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no recorded runs for %s", name))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) history(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.History(r.Context(), r.PathValue("stack"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []update.Result{}
	}
	writeJSON(w, http.StatusOK, map[string][]update.Result{"runs": runs})
}

// decodeUpdateOptions reads the optional JSON body. An empty body selects defaults.
func decodeUpdateOptions(r *http.Request) (update.Options, error) {
	var req updateRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return update.Options{}, fmt.Errorf("invalid request body: %w", err)
	}

	strategy, err := reconcile.ParseStrategy(req.HandleChanges)
	if err != nil {
		return update.Options{}, err
	}
	return update.Options{
		PerformPrune:  req.PerformPrune,
		ForceUpdate:   req.ForceUpdate,
		HandleChanges: strategy,
	}, nil
}

// statusForResult maps terminal states to HTTP statuses. A partial failure
// completed the run, so it is reported as 200 with success=false.
func statusForResult(result update.Result) int {
	switch result.State {
	case update.StateSuccess, update.StateShortCircuit, update.StatePartialFailure:
		return http.StatusOK
	case update.StateAborted:
		return http.StatusConflict
	default:
		if result.ErrorKind == update.KindPrecondition {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, coordinator.ErrUnknownStack) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
