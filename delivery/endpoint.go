package delivery

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"fleetgate/apiclient"
)

// pathBuilder renders the upstream path for an incoming request.
type pathBuilder func(r *http.Request) string

// fixedPath forwards to the same upstream path for every request.
func fixedPath(path string) pathBuilder {
	return func(*http.Request) string { return path }
}

// paramPath substitutes {name} placeholders with the route's URL
// parameters, escaping each value as a path segment.
func paramPath(pattern string) pathBuilder {
	return func(r *http.Request) string {
		segments := strings.Split(pattern, "/")
		for i, seg := range segments {
			if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
				name := seg[1 : len(seg)-1]
				segments[i] = url.PathEscape(chi.URLParam(r, name))
			}
		}
		return strings.Join(segments, "/")
	}
}

// proxy builds a handler that forwards the request to the upstream API and
// relays the normalized result:
//
//   - mutating requests must carry a JSON body, otherwise 400;
//   - upstream error statuses are forwarded verbatim with their payload
//     (or a generic {"error": "Server error"} when there is none);
//   - network failures become 500 {"message": "Cannot reach API server"};
//   - 401s are additionally reported to the session's route guard.
//
// When cacheable is set, 2xx GET responses are memoized per session and
// served from the cache until swept by login/logout or a mutation on the
// same collection.
func (h *HTTPEndpoint) proxy(cacheable bool, build pathBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body any
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "Missing request body")
				return
			}
		}

		cacheKey := ""
		if cacheable && r.Method == http.MethodGet {
			if coord, ok := h.app.Coordinator(ctx); ok {
				cacheKey = r.URL.RequestURI() + "#" + coord.SessionID()
				if status, payload, ok := h.app.Cache().Get(cacheKey); ok {
					writeJSON(w, status, payload)
					return
				}
			}
		}

		upstream := build(r)
		if r.URL.RawQuery != "" {
			upstream += "?" + r.URL.RawQuery
		}

		status, payload, err := h.app.Upstream().Exchange(ctx, r.Method, upstream, h.app.SessionToken(ctx), body)
		if err != nil {
			h.forwardFailure(w, r, err)
			return
		}

		if cacheKey != "" {
			h.app.Cache().Set(cacheKey, status, payload)
		}
		if r.Method != http.MethodGet {
			// A mutation makes every memoized read of this collection stale.
			h.app.Cache().InvalidatePrefix(collectionPrefix(r.URL.Path))
		}
		writeJSON(w, status, payload)
	}
}

// proxyUpload forwards a file upload to the upstream without touching the
// body: multipart forms keep their boundary and stream through as-is. The
// failure contract matches proxy's.
func (h *HTTPEndpoint) proxyUpload(build pathBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status, payload, err := h.app.Upstream().ForwardRaw(
			ctx, r.Method, build(r), h.app.SessionToken(ctx), r.Header.Get("Content-Type"), r.Body)
		if err != nil {
			h.forwardFailure(w, r, err)
			return
		}
		h.app.Cache().InvalidatePrefix(collectionPrefix(r.URL.Path))
		writeJSON(w, status, payload)
	}
}

// forwardFailure renders a normalized upstream failure. The contract keeps
// the status and payload of upstream errors intact so the client sees what
// the API said, and collapses transport failures into one stable message.
func (h *HTTPEndpoint) forwardFailure(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"details": err.Error(),
		})
		return
	}

	if apiErr.Status == 0 {
		log.Printf("Upstream unreachable for %s %s: %s", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Cannot reach API server",
		})
		return
	}

	if apiErr.AuthError {
		if guard, ok := h.app.Guard(r.Context()); ok {
			guard.ObserveErrors(r.Context(), pageNavigator(r), []error{err})
		}
	}

	body := apiErr.Body
	if body == nil {
		body = map[string]string{"error": "Server error"}
	}
	writeJSON(w, apiErr.Status, body)
}

// collectionPrefix reduces a proxy path to its collection root, e.g.
// "/api/mezzi/42" -> "/api/mezzi".
func collectionPrefix(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) < 2 {
		return path
	}
	return "/" + parts[0] + "/" + parts[1]
}
