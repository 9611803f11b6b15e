package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type createRequest struct {
	Name       string           `json:"name"`
	MaxPlayers int              `json:"max_players"`
	Private    bool             `json:"private"`
	Data       map[string]Field `json:"data,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves a Registry over HTTP.
type Handler struct {
	reg *Registry
	log *zap.Logger
}

func NewHandler(reg *Registry, log *zap.Logger) *Handler {
	return &Handler{reg: reg, log: log}
}

// Routes mounts the directory API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/adverts", func(r chi.Router) {
		r.Get("/", h.query)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/heartbeat", h.heartbeat)
		})
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}
	a, err := h.reg.Create(r.Context(), req.Name, req.MaxPlayers, CreateOptions{Private: req.Private, Data: req.Data})
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var opts UpdateOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}
	a, err := h.reg.Update(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Heartbeat(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "heartbeat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	opts := QueryOptions{}
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad limit"})
			return
		}
		opts.Limit = n
	}
	if s := q.Get("min_slots"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad min_slots"})
			return
		}
		opts.MinAvailableSlots = n
	}

	adverts, err := h.reg.Query(r.Context(), opts)
	if err != nil {
		h.fail(w, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, adverts)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: ErrNotFound.Error()})
	case errors.Is(err, ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.log.Error("directory request failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HTTPClient talks to a remote directory served by Handler.
type HTTPClient struct {
	base string
	http *http.Client
}

func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *HTTPClient) Create(ctx context.Context, name string, maxPlayers int, opts CreateOptions) (Advertisement, error) {
	var a Advertisement
	req := createRequest{Name: name, MaxPlayers: maxPlayers, Private: opts.Private, Data: opts.Data}
	err := c.do(ctx, http.MethodPost, "/adverts", req, &a)
	return a, err
}

func (c *HTTPClient) Update(ctx context.Context, id string, opts UpdateOptions) (Advertisement, error) {
	var a Advertisement
	err := c.do(ctx, http.MethodPatch, "/adverts/"+url.PathEscape(id), opts, &a)
	return a, err
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/adverts/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) Heartbeat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/adverts/"+url.PathEscape(id)+"/heartbeat", nil, nil)
}

func (c *HTTPClient) Query(ctx context.Context, opts QueryOptions) ([]Advertisement, error) {
	v := url.Values{}
	if opts.Limit > 0 {
		v.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.MinAvailableSlots != 0 {
		v.Set("min_slots", strconv.Itoa(opts.MinAvailableSlots))
	}
	path := "/adverts"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []Advertisement
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s: %w", method, path, e.Error, ErrInvalidRecord)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
