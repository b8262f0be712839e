package main

import (
	"github.com/rkr-ui/BOQMate/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.PatternLibraryService{},
		&services.ThreatDetectorService{},
		&services.RateLimitService{},
		&services.BlocklistService{},
		&services.JWTService{},
		&services.AuthService{},
		&services.SecurityEventMonitorService{},
		&services.UploadValidatorService{},
		&services.PostgresService{},
		&services.MinIOService{},
		&services.RequestGateService{},
		&services.MonitoringService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
