package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/pkg/errutil"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const securityEventTimeout = 2 * time.Second

// TapService runs the tap pipeline: resolve the device, authenticate the tap,
// guard against replays and bursts, then award or defer a stamp.
type TapService struct {
	devices   *repository.DeviceRepository
	events    *repository.SecurityEventRepository
	validator *AuthenticityValidator
	identity  IdentityResolver
	rewards   *RewardService
	cfg       config.TapConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewTapService(
	devices *repository.DeviceRepository,
	events *repository.SecurityEventRepository,
	validator *AuthenticityValidator,
	identity IdentityResolver,
	rewards *RewardService,
	cfg config.TapConfig,
	log *zap.Logger,
) *TapService {
	return &TapService{
		devices:   devices,
		events:    events,
		validator: validator,
		identity:  identity,
		rewards:   rewards,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Verify processes one tap. bearer is the raw token from the Authorization
// header, or empty. Errors are always errutil coded errors.
func (s *TapService) Verify(ctx context.Context, ev model.TapEvent, bearer string) (*model.TapOutcome, error) {
	log := s.log.With(
		zap.String("uid", ev.UID),
		zap.Int64("counter", ev.Counter),
		zap.String("mode", string(ev.Mode)),
	)

	outcome, err := s.verify(ctx, ev, bearer, log)
	if err != nil {
		reason := errutil.ReasonOf(err)
		if reason == errutil.ReasonInternal {
			log.Error("tap failed", zap.String("reason", string(reason)), zap.Error(err))
		} else {
			log.Info("tap rejected", zap.String("reason", string(reason)), zap.Error(err))
		}
		return nil, err
	}

	log.Info("tap accepted", zap.String("status", string(outcome.Status)), zap.Int("stamps", outcome.Stamps))
	return outcome, nil
}

func (s *TapService) verify(ctx context.Context, ev model.TapEvent, bearer string, log *zap.Logger) (*model.TapOutcome, error) {
	device, err := s.resolveDevice(ctx, ev.UID)
	if err != nil {
		return nil, err
	}

	if err := s.validator.Validate(ev); err != nil {
		switch {
		case errors.Is(err, ErrDevModeDisabled):
			s.recordEvent(ctx, device, model.SecurityEventDevModeRejected, ev, log)
		case errors.Is(err, errutil.ErrInvalidSignature):
			s.recordEvent(ctx, device, model.SecurityEventInvalidSignature, ev, log)
		}
		return nil, err
	}

	counter := ev.Counter
	if !ev.HasCounter {
		// Static dev cards carry no counter; the next value still goes
		// through the conditional update.
		counter = device.LastCounter + 1
	}
	if counter <= device.LastCounter {
		s.recordEvent(ctx, device, model.SecurityEventReplayAttack, ev, log)
		return nil, errutil.ReplayDetected(nil)
	}

	if err := s.checkRateLimit(ctx, device); err != nil {
		return nil, err
	}

	now := s.now()
	meta := model.TapMetadata{
		Mode:      ev.Mode,
		Counter:   counter,
		UID:       ev.UID,
		Timestamp: now,
	}

	if id := s.identity.Resolve(ctx, bearer); id != nil {
		stamps, err := s.rewards.Award(ctx, device, counter, id.UserID, meta)
		if err != nil {
			s.recordReplayRace(ctx, device, ev, err, log)
			return nil, err
		}
		return &model.TapOutcome{Status: model.TapStatusAwarded, Stamps: stamps}, nil
	}

	token, expiresAt, err := s.rewards.Defer(ctx, device, counter, meta)
	if err != nil {
		s.recordReplayRace(ctx, device, ev, err, log)
		return nil, err
	}
	return &model.TapOutcome{Status: model.TapStatusDeferred, ClaimToken: token, ClaimExpiresAt: expiresAt}, nil
}

func (s *TapService) resolveDevice(ctx context.Context, uid string) (*model.NFCDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	device, err := s.devices.FindActiveByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.DeviceNotFound(nil)
		}
		return nil, errutil.Internal(err)
	}
	return device, nil
}

func (s *TapService) checkRateLimit(ctx context.Context, device *model.NFCDevice) error {
	if s.cfg.RateLimitWindow <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	recent, err := s.rewards.RecentlyRewarded(ctx, device.ID, s.now().Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return errutil.Internal(err)
	}
	if recent {
		return errutil.RateLimited()
	}
	return nil
}

func (s *TapService) recordReplayRace(ctx context.Context, device *model.NFCDevice, ev model.TapEvent, err error, log *zap.Logger) {
	if errors.Is(err, errutil.ErrReplayDetected) {
		s.recordEvent(ctx, device, model.SecurityEventReplayAttack, ev, log)
	}
}

// recordEvent writes a security event on a context detached from the request
// so a disconnecting client cannot suppress it. Failures are only logged.
func (s *TapService) recordEvent(ctx context.Context, device *model.NFCDevice, eventType model.SecurityEventType, ev model.TapEvent, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), securityEventTimeout)
	defer cancel()

	now := s.now()
	metadata, err := json.Marshal(model.TapMetadata{
		Mode:      ev.Mode,
		Counter:   ev.Counter,
		UID:       ev.UID,
		CMAC:      ev.CMAC,
		Timestamp: now,
	})
	if err != nil {
		log.Warn("failed to encode security event", zap.Error(err))
		return
	}

	event := &model.SecurityEvent{
		DeviceID:  device.ID,
		EventType: eventType,
		Metadata:  datatypes.JSON(metadata),
		CreatedAt: now,
	}
	if err := s.events.Record(ctx, event); err != nil {
		log.Warn("failed to record security event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
