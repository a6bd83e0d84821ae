package telemetry

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"apis-edge-go/internal/config"
	"apis-edge-go/internal/logging"
	"apis-edge-go/internal/models"
)

// Service publishes detections and safety transitions onto a LAN NATS bus
// for bench tooling and dashboards. Strictly optional: detection and safety
// behave identically with it disabled or the broker down.
type Service struct {
	conn   *nats.Conn
	logger zerolog.Logger

	detectionsSubject string
	safetySubject     string
}

func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{
		logger:            logging.NewServiceLogger(cfg, "telemetry"),
		detectionsSubject: cfg.DetectionsSubject,
		safetySubject:     cfg.SafetySubject,
	}
	if !cfg.NatsEnabled {
		s.logger.Debug().Msg("Telemetry bus disabled")
		return s, nil
	}

	opts := []nats.Option{
		nats.Name("apis-edge-" + cfg.UnitID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
	}
	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.logger.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")
	return s, nil
}

// PublishDetection emits a detection event. Failures are logged and
// swallowed.
func (s *Service) PublishDetection(event models.DetectionEvent) {
	s.publish(s.detectionsSubject, event)
}

// PublishSafety emits a safety snapshot on gate state changes.
func (s *Service) PublishSafety(snap models.SafetySnapshot) {
	s.publish(s.safetySubject, snap)
}

func (s *Service) publish(subject string, data any) {
	if s.conn == nil || !s.conn.IsConnected() {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("Telemetry encode failed")
		return
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		s.logger.Debug().Err(err).Str("subject", subject).Msg("Telemetry publish failed")
	}
}

// Shutdown drains the connection if one exists.
func (s *Service) Shutdown() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to drain NATS connection, closing immediately")
		s.conn.Close()
	}
}
