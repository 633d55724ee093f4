package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/messaging/kafka"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// DecodeRequest parses a run request. The value is either an event envelope
// carrying the request as payload or the bare request JSON. A request
// without an ID takes the envelope's event ID, then the message key.
func DecodeRequest(msg *kafka.Message) (run.Request, error) {
	var req run.Request
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return req, err
	}

	if len(env.Payload) > 0 {
		if env.EventType != "" && env.EventType != run.EventRequested {
			return req, errors.Newf(errors.CodeInvalidParam, "unexpected event type %q", env.EventType)
		}
		if err := env.DecodePayload(&req); err != nil {
			return req, err
		}
		if req.RequestID == "" {
			req.RequestID = env.EventID
		}
	} else if err := json.Unmarshal(msg.Value, &req); err != nil {
		return req, errors.Wrap(err, errors.CodeSerialization, "decode run request")
	}

	if req.RequestID == "" {
		req.RequestID = string(msg.Key)
	}
	return req, req.Validate()
}

// ConfigForRequest returns a copy of base with the request's overrides
// applied and validated. base is not modified.
func ConfigForRequest(base *config.Config, req run.Request) (*config.Config, error) {
	cfg := *base
	cfg.Model.FusionWidths = append([]int(nil), base.Model.FusionWidths...)

	if req.Expression != "" {
		cfg.Inputs.Expression = req.Expression
	}
	if req.Mutation != "" {
		cfg.Inputs.Mutation = req.Mutation
	}
	if req.Methylation != "" {
		cfg.Inputs.Methylation = req.Methylation
	}
	if req.Drugs != "" {
		cfg.Inputs.Drugs = req.Drugs
	}
	if req.OutputDir != "" {
		cfg.Outputs.Dir = req.OutputDir
	}
	if req.TopK > 0 {
		cfg.Recommendation.TopK = req.TopK
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "request overrides produce an invalid config")
	}
	return &cfg, nil
}

// RequestHandler executes one full run per consumed request. Runs never
// overlap; a request that arrives during a run waits for it.
type RequestHandler struct {
	runMu sync.Mutex

	cfgMu sync.RWMutex
	cfg   *config.Config

	opts   []Option
	logger logging.Logger
}

// NewRequestHandler creates a handler that builds each run's Runner from
// the current config and opts.
func NewRequestHandler(cfg *config.Config, logger logging.Logger, opts ...Option) *RequestHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RequestHandler{cfg: cfg, opts: opts, logger: logger}
}

// SetConfig replaces the base config for subsequent runs. A run already in
// progress keeps the config it started with.
func (h *RequestHandler) SetConfig(cfg *config.Config) {
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
	h.logger.Info("Worker config reloaded")
}

// Config returns the current base config.
func (h *RequestHandler) Config() *config.Config {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

// HandleMessage is a kafka.MessageHandler.
func (h *RequestHandler) HandleMessage(ctx context.Context, msg *kafka.Message) error {
	req, err := DecodeRequest(msg)
	if err != nil {
		h.logger.Warn("Dropping undecodable run request", logging.Int64("offset", msg.Offset), logging.Err(err))
		return err
	}
	_, err = h.Handle(ctx, req)
	return err
}

// Handle runs the pipeline for req.
func (h *RequestHandler) Handle(ctx context.Context, req run.Request) (*run.Result, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	log := h.logger.With(logging.String("request_id", req.RequestID))
	cfg, err := ConfigForRequest(h.Config(), req)
	if err != nil {
		log.Error("Rejected run request", logging.Err(err))
		return nil, err
	}
	runner, err := NewRunner(cfg, log, h.opts...)
	if err != nil {
		return nil, err
	}
	return runner.Run(ContextWithRequestID(ctx, req.RequestID))
}
