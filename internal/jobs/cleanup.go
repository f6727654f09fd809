package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairdesk/qr-auth-server/internal/repository"
)

const cleanupTimeout = 30 * time.Second

// CleanupJob periodically disables pending pairing codes older than the
// pairing TTL. Rows are disabled, never deleted, so superseded and redeemed
// codes remain available for audit.
type CleanupJob struct {
	codeRepo   repository.QRCodeRepository
	pairingTTL time.Duration
	interval   time.Duration
	done       chan struct{}
}

func NewCleanupJob(codeRepo repository.QRCodeRepository, pairingTTL, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		codeRepo:   codeRepo,
		pairingTTL: pairingTTL,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cutoff := time.Now().Add(-j.pairingTTL)
	count, err := j.codeRepo.DisableStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to disable stale pairing codes")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("disabled stale pairing codes")
	}
}
