package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"apis-edge-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("unit_id", cfg.UnitID).Str("service", service).Logger()
}
