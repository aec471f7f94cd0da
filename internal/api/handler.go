package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"querybroker/internal/broker/query"
	"querybroker/pkg/apperror"
)

// queryEnvelope is the outer JSON body accepted by POST /query.
type queryEnvelope struct {
	PQL          string `json:"pql"`
	Trace        string `json:"trace,omitempty"`
	DebugOptions string `json:"debugOptions,omitempty"`
}

// parseDebugOptions splits a "k1=v1;k2=v2" string into a map, ignoring
// empty segments so a trailing separator isn't an error.
func parseDebugOptions(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

// QueryHandler wires the JSON envelope to the compiler and the C1-C9
// engine, rendering the result in the external wire shape.
func QueryHandler(compiler query.Compiler, engine *query.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env queryEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
			return
		}

		trace := strings.EqualFold(env.Trace, "true")
		debugOptions := parseDebugOptions(env.DebugOptions)

		req, err := compiler.Compile(r.Context(), env.PQL, trace, debugOptions)
		if err != nil {
			code := apperror.Code(err)
			writeError(w, http.StatusBadRequest, string(code), err.Error())
			return
		}

		resp, _ := engine.Execute(r.Context(), req)
		// Broker-level failures (e.g. validation, gather errors) are reported
		// as exceptions in a 200 body, not HTTP error codes, per the external
		// contract's exceptions array.
		writeJSON(w, http.StatusOK, toWireResponse(resp))
	})
}

// HealthHandler answers liveness probes.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
