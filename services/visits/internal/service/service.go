package service

import (
	"time"

	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/completion"
	"github.com/diagnosis/museum-visits/services/visits/internal/credential"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository"
)

// Deps carries everything the visit services share.
type Deps struct {
	Bookings    repository.BookingRepository
	Visitors    repository.VisitorRepository
	Tokens      repository.TokenRepository
	Idempotency repository.IdempotencyRepository // optional
	Capacity    *capacity.Manager
	Issuer      *credential.Issuer
	Validator   *completion.Validator
	Publisher   events.Publisher
	Museum      config.MuseumConfig
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// maxCodeAttempts bounds retries when a freshly minted backup code collides with one on record.
const maxCodeAttempts = 3

// completeKeyAttempts bounds writes of the idempotency record after a booking commits.
const completeKeyAttempts = 2
