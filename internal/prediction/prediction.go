// Package prediction asks a language model to spot supply chain anomalies in
// sensor and ledger data.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pharma-scm-api-server/internal/metrics"
)

var (
	// ErrInvalidInput means the request was rejected before the model was called.
	ErrInvalidInput = errors.New("invalid prediction input")
	// ErrUnavailable wraps any failure of the model call or its answer.
	ErrUnavailable = errors.New("prediction unavailable")
)

const DefaultTimeout = 30 * time.Second

// Report is the model's answer.
type Report struct {
	Anomalies      []string `json:"anomalies"`
	RiskAssessment string   `json:"riskAssessment"`
}

// Request carries the two JSON documents to analyse.
type Request struct {
	IoTData        string `json:"iotData" binding:"required"`
	BlockchainData string `json:"blockchainData" binding:"required"`
}

// Predictor is the model collaborator. It returns the raw JSON text of a
// Report.
type Predictor interface {
	Predict(ctx context.Context, req Request) (string, error)
}

// Archiver stores finished reports. Archive failures never fail a prediction.
type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// Service validates requests, bounds the model call and checks its answer.
type Service struct {
	predictor Predictor
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	archiver  Archiver
	now       func() time.Time
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l.Named("prediction") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func NewService(p Predictor, opts ...Option) *Service {
	s := &Service{
		predictor: p,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict returns the anomaly report for req.
func (s *Service) Predict(ctx context.Context, req Request) (Report, error) {
	if err := validate(req); err != nil {
		s.metrics.ObservePrediction("invalid")
		return Report{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.predictor.Predict(callCtx, req)
	if err != nil {
		outcome := "error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.metrics.ObservePrediction(outcome)
		s.logger.Warn("Prediction call failed", zap.String("outcome", outcome), zap.Error(err))
		return Report{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	report, err := parseReport(raw)
	if err != nil {
		s.metrics.ObservePrediction("malformed")
		s.logger.Warn("Prediction answer rejected", zap.Error(err))
		return Report{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.metrics.ObservePrediction("ok")
	s.archive(ctx, req, report)
	return report, nil
}

func (s *Service) archive(ctx context.Context, req Request, report Report) {
	if s.archiver == nil {
		return
	}
	key := fmt.Sprintf("predictions/%s/%s.json", s.now().UTC().Format("2006-01-02"), uuid.NewString())
	doc := struct {
		Request
		Report
		At time.Time `json:"at"`
	}{req, report, s.now().UTC()}
	if _, err := s.archiver.PutJSON(ctx, key, doc); err != nil {
		s.logger.Warn("Failed to archive prediction", zap.String("key", key), zap.Error(err))
	}
}

func validate(req Request) error {
	fields := map[string]string{"iotData": req.IoTData, "blockchainData": req.BlockchainData}
	for _, name := range []string{"iotData", "blockchainData"} {
		v := strings.TrimSpace(fields[name])
		if v == "" {
			return fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, name)
		}
		if !json.Valid([]byte(v)) {
			return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidInput, name)
		}
	}
	return nil
}

func parseReport(raw string) (Report, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")

	var body struct {
		Anomalies      *[]string `json:"anomalies"`
		RiskAssessment *string   `json:"riskAssessment"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if body.Anomalies == nil || body.RiskAssessment == nil {
		return Report{}, errors.New("report is missing anomalies or riskAssessment")
	}
	return Report{Anomalies: *body.Anomalies, RiskAssessment: *body.RiskAssessment}, nil
}
