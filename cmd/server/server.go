package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/businessrules/actions"
	"github.com/liamcoop/businessrules/cel"
	"github.com/liamcoop/businessrules/facts"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
)

// factStore is a fact source the API can write to
type factStore interface {
	facts.Source
	Set(ctx context.Context, subject, name string, value any) error
	Delete(ctx context.Context, subject, name string) error
}

// memoryStore adapts MemorySource to factStore
type memoryStore struct {
	*facts.MemorySource
}

func (m memoryStore) Set(ctx context.Context, subject, name string, value any) error {
	m.MemorySource.Set(subject, name, value)
	return nil
}

func (m memoryStore) Delete(ctx context.Context, subject, name string) error {
	m.MemorySource.Delete(subject, name)
	return nil
}

type Server struct {
	store     factStore
	backend   string
	ping      func(ctx context.Context) error
	scripts   []*actions.LuaAction
	evaluator *cel.Evaluator
	opts      []rules.EngineOption
	boolConds bool
	timeout   time.Duration
	log       *slog.Logger
	router    *chi.Mux
}

// ServerOptions wires a Server
type ServerOptions struct {
	Store   factStore
	Backend string

	// Ping checks the fact backend for the health endpoint; nil means healthy
	Ping func(ctx context.Context) error

	Scripts      []*actions.LuaAction
	Evaluator    *cel.Evaluator
	EngineOpts   []rules.EngineOption
	AllowNonBool bool
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewServer(o ServerOptions) *Server {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	s := &Server{
		store:     o.Store,
		backend:   o.Backend,
		ping:      o.Ping,
		scripts:   o.Scripts,
		evaluator: o.Evaluator,
		boolConds: !o.AllowNonBool,
		timeout:   o.Timeout,
		log:       o.Logger,
	}
	s.opts = append([]rules.EngineOption{
		rules.WithLogger(o.Logger),
		rules.WithBooleanConditions(s.boolConds),
	}, o.EngineOpts...)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/registry", s.handleRegistry)

	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Post("/api/v1/parse", s.handleParse)

	r.Put("/api/v1/facts/{subject}/{name}", s.handleSetFact)
	r.Delete("/api/v1/facts/{subject}/{name}", s.handleDeleteFact)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// registry builds a registry holding a get_<name> fetcher per known fact,
// the builtin actions and the loaded scripts. Facts may change between
// requests, so every request gets its own.
func (s *Server) registry(ctx context.Context) (*rules.Registry, error) {
	reg := rules.NewRegistry()
	if err := facts.Register(ctx, reg, s.store, facts.WithLogger(s.log)); err != nil {
		return nil, err
	}
	if err := actions.RegisterBuiltins(reg, s.log); err != nil {
		return nil, err
	}
	if err := actions.Register(reg, s.scripts); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"facts":  s.backend,
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"facts":   s.backend,
		"scripts": len(s.scripts),
		"stats":   logger.Snapshot(),
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registry(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to build registry", err)
		return
	}
	respondJSON(w, http.StatusOK, RegistryResponse{
		Fetchers: reg.FetcherNames(),
		Actions:  reg.ActionNames(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	facts.NormalizeNumbers(req.Params)
	req.Event = facts.NormalizeNumbers(req.Event)

	reg, err := s.registry(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to build registry", err)
		return
	}
	engine := rules.NewEngine(reg, s.evaluator, s.opts...)

	startTime := time.Now()
	results, err := engine.Run(r.Context(), req.Rules, rules.ExecutionContext{
		Params: req.Params,
		Event:  req.Event,
	})
	logger.RecordEvaluation(err)
	if err != nil {
		s.respondError(w, statusFor(err), "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Results:        results,
		EvaluationTime: time.Since(startTime).String(),
	})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	set, err := rules.Parse(req.Text, rules.WithConditionRequiresBool(s.boolConds))
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "invalid rule text", err)
		return
	}

	resp := ParseResponse{Rules: make([]RuleResponse, 0, set.Len())}
	for _, rule := range set.Rules() {
		invocations, err := rule.Invocations()
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "invalid action", err)
			return
		}
		actionList := make([]ActionResponse, 0, len(invocations))
		for _, inv := range invocations {
			params := inv.Params
			if params == nil {
				params = []string{}
			}
			actionList = append(actionList, ActionResponse{Name: inv.Name, Params: params})
		}
		inputs := rules.ConditionTokens(rule.Condition())
		if inputs == nil {
			inputs = []string{}
		}
		resp.Rules = append(resp.Rules, RuleResponse{
			Name:        rule.Name,
			Condition:   rule.Condition(),
			Inputs:      inputs,
			Actions:     actionList,
			RequireBool: rule.ConditionRequiresBool,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetFact(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	name := chi.URLParam(r, "name")

	if err := rules.ValidateIdentifier(name); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid fact name", err)
		return
	}

	var req SetFactRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.Value = facts.NormalizeNumbers(req.Value)

	if err := s.store.Set(r.Context(), subject, name, req.Value); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to store fact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	name := chi.URLParam(r, "name")

	err := s.store.Delete(r.Context(), subject, name)
	if errors.Is(err, facts.ErrFactNotFound) {
		s.respondError(w, http.StatusNotFound, "fact not found", err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to delete fact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody keeps numbers exact so every fact backend sees the same types
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// statusFor maps a run error to an HTTP status. Problems with the submitted
// rules or event are 422; everything else is a server failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rules.ErrStructural),
		errors.Is(err, rules.ErrEmptyRuleSet),
		errors.Is(err, rules.ErrMissingArgument),
		errors.Is(err, rules.ErrInvalidConditionFunction),
		errors.Is(err, rules.ErrInvalidIdentifier),
		errors.Is(err, rules.ErrConditionReturnValue),
		errors.Is(err, rules.ErrFetcherNotFound),
		errors.Is(err, rules.ErrActionNotFound),
		errors.Is(err, rules.ErrMalformedAction),
		errors.Is(err, cel.ErrInvalidExpression),
		errors.Is(err, facts.ErrNoSubject),
		errors.Is(err, facts.ErrFactNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string, err error) {
	logger.RecordStatus(status)
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(message, "status", status, "error", err)
	} else {
		s.log.Warn(message, "status", status, "error", err)
	}
	respondJSON(w, status, response)
}
