// Package transport serves the phonebook GraphQL schema over HTTP and
// websocket subscriptions.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/graph-gophers/graphql-go"

	apperrors "github.com/louisbranch/phonebook/internal/platform/errors"
	phonebookgraphql "github.com/louisbranch/phonebook/internal/services/phonebook/api/graphql/phonebook"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

const maxRequestBodyBytes = 1 << 20

// Executor runs GraphQL operations.
type Executor interface {
	Exec(ctx context.Context, queryString string, operationName string, variables map[string]any) *graphql.Response
	Subscribe(ctx context.Context, queryString string, operationName string, variables map[string]any) (<-chan any, error)
}

// Authenticator resolves an Authorization header value to the calling
// identity.
type Authenticator interface {
	AuthenticateRequest(ctx context.Context, header string) (*storage.Identity, error)
}

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type errorBody struct {
	Errors []errorEntry `json:"errors"`
}

type errorEntry struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewHandler creates the phonebook routes: /graphql for queries and
// mutations, /subscriptions for graphql-transport-ws streams, and /up.
func NewHandler(executor Executor, authn Authenticator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/graphql", &graphqlHandler{executor: executor, authn: authn})
	mux.Handle("/subscriptions", newSubscriptionHandler(executor, authn))
	return mux
}

type graphqlHandler struct {
	executor Executor
	authn    Authenticator
}

func (h *graphqlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req graphqlRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeBadRequest, "invalid request body", err))
		return
	}
	if req.Query == "" {
		writeError(w, apperrors.New(apperrors.CodeBadRequest, "query is required"))
		return
	}

	viewer, err := h.authn.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := phonebookgraphql.WithViewer(r.Context(), viewer)
	resp := h.executor.Exec(ctx, req.Query, req.OperationName, req.Variables)
	writeJSON(w, http.StatusOK, resp)
}

// writeError reports a failure that aborts the whole request.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.CodeOf(err).HTTPStatus(), errorBody{Errors: []errorEntry{newErrorEntry(err)}})
}

// newErrorEntry renders err with its code. Unstructured causes are reported
// as INTERNAL without their message.
func newErrorEntry(err error) errorEntry {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return errorEntry{Message: err.Error(), Extensions: appErr.Extensions()}
	}
	log.Printf("phonebook: request failed: %v", err)
	return errorEntry{
		Message:    "internal error",
		Extensions: map[string]any{"code": string(apperrors.CodeInternal)},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("phonebook: write response: %v", err)
	}
}
