package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/device"
)

// maxFanOut bounds concurrent sends of one rawmethod request.
const maxFanOut = 16

// LampID is a lamp identifier that decodes from a JSON number or from a
// decimal or 0x-prefixed hex string.
type LampID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *LampID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		if n == 0 {
			return fmt.Errorf("lamp id 0 is reserved")
		}
		*id = LampID(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("lamp id must be a number or a string")
	}
	parsed, err := parseLampID(s)
	if err != nil {
		return err
	}
	*id = LampID(parsed)
	return nil
}

// parseLampID accepts "45607354" or "0x0000000002b7e9ba".
func parseLampID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	var (
		id  int64
		err error
	)
	if hex, ok := strings.CutPrefix(strings.ToLower(raw), "0x"); ok {
		var u uint64
		u, err = strconv.ParseUint(hex, 16, 64)
		id = int64(u)
	} else {
		id, err = strconv.ParseInt(raw, 10, 64)
	}
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid lamp id %q", raw)
	}
	return id, nil
}

// lampIDParam parses the {id} path parameter, writing a 400 on failure.
func lampIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseLampID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, false
	}
	return id, true
}

// writeLampError maps registry and session errors to HTTP responses.
func writeLampError(w http.ResponseWriter, err error) {
	var deviceErr *yeelight.DeviceError
	switch {
	case errors.Is(err, device.ErrLampNotFound):
		writeNotFound(w, "lamp not found")
	case errors.Is(err, yeelight.ErrInvalidArgument):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrRegistryClosed):
		writeUnavailable(w, "registry closed")
	case errors.As(err, &deviceErr):
		writeError(w, http.StatusBadGateway, ErrCodeLampError, deviceErr.Message)
	default:
		writeError(w, http.StatusBadGateway, ErrCodeLampError, err.Error())
	}
}

// handleListLamps returns every known lamp, ordered by id.
func (s *Server) handleListLamps(w http.ResponseWriter, _ *http.Request) {
	lamps := s.registry.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{"lamps": lamps, "count": len(lamps)})
}

// handleGetLamp returns one lamp's state.
func (s *Server) handleGetLamp(w http.ResponseWriter, r *http.Request) {
	id, ok := lampIDParam(w, r)
	if !ok {
		return
	}
	state, err := s.registry.Get(id)
	if err != nil {
		writeLampError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleDeleteLamp forgets a lamp. It comes back on its next announcement.
func (s *Server) handleDeleteLamp(w http.ResponseWriter, r *http.Request) {
	id, ok := lampIDParam(w, r)
	if !ok {
		return
	}
	if err := s.registry.Remove(r.Context(), id); err != nil {
		writeLampError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rawMethodRequest is the body of POST /lamps/rawmethod and the data of a
// call-lamp-method WebSocket message.
type rawMethodRequest struct {
	Method  string   `json:"method"`
	Args    []any    `json:"args"`
	Targets []LampID `json:"targets"`
}

func (req rawMethodRequest) validate() error {
	if strings.TrimSpace(req.Method) == "" {
		return fmt.Errorf("method is required")
	}
	if len(req.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	return nil
}

// targetResult is the outcome of a raw method on one lamp.
type targetResult struct {
	LampID int64  `json:"lampId"`
	OK     bool   `json:"ok"`
	Result []any  `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	notFound bool
}

// sendToTargets sends one command to every target concurrently and
// returns the per-target outcomes in target order.
func (s *Server) sendToTargets(ctx context.Context, cmd yeelight.Command, targets []LampID) []targetResult {
	results := make([]targetResult, len(targets))

	var g errgroup.Group
	g.SetLimit(maxFanOut)
	for i, target := range targets {
		id := int64(target)
		g.Go(func() error {
			res := targetResult{LampID: id}
			frame, err := s.registry.Send(ctx, id, cmd)
			switch {
			case err == nil:
				res.OK = true
				res.Result = frame.Result
			case errors.Is(err, device.ErrLampNotFound):
				res.notFound = true
				res.Error = fmt.Sprintf("could not find lamp %d", id)
			default:
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	return results
}

// handleRawMethod sends a method to several lamps at once.
//
// Responds 200 with one result per target, or 400 with the same list when
// any target is not a known lamp.
func (s *Server) handleRawMethod(w http.ResponseWriter, r *http.Request) {
	var req rawMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	cmd, err := yeelight.Build(req.Method, req.Args)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.logger.Debug("raw method", "method", req.Method, "targets", len(req.Targets))
	results := s.sendToTargets(r.Context(), cmd, req.Targets)

	status := http.StatusOK
	for _, res := range results {
		if res.notFound {
			status = http.StatusBadRequest
			break
		}
	}
	writeJSON(w, status, map[string]any{"results": results})
}

// musicRequest is the body of POST /lamps/{id}/music.
type musicRequest struct {
	On *bool `json:"on"`
}

// handleSetMusic turns music mode on or off and returns the lamp state.
func (s *Server) handleSetMusic(w http.ResponseWriter, r *http.Request) {
	id, ok := lampIDParam(w, r)
	if !ok {
		return
	}

	var req musicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		writeBadRequest(w, `body must be {"on": true|false}`)
		return
	}

	if err := s.registry.SetMusic(r.Context(), id, *req.On); err != nil {
		writeLampError(w, err)
		return
	}

	state, err := s.registry.Get(id)
	if err != nil {
		writeLampError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
