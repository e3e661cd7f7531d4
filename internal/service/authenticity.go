package service

import (
	"errors"
	"fmt"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/aionloyalty/aion/pkg/ntag"
)

// ErrDevModeDisabled is the cause attached to a dev-mode tap on a deployment
// that does not accept them.
var ErrDevModeDisabled = errors.New("dev mode taps are disabled")

// AuthenticityValidator decides whether a tap came from a genuine tag.
type AuthenticityValidator struct {
	allowDevMode bool
	verifier     *ntag.Verifier
	keyErr       error
}

// NewAuthenticityValidator builds a validator from the tap config. A missing or
// malformed master key does not fail construction; prod taps are then refused
// with an internal error instead.
func NewAuthenticityValidator(cfg config.TapConfig) *AuthenticityValidator {
	v := &AuthenticityValidator{allowDevMode: cfg.AllowDevMode}
	if cfg.MasterKeyHex == "" {
		v.keyErr = errors.New("NFC_MASTER_KEY is not configured")
		return v
	}
	verifier, err := ntag.NewVerifier(cfg.MasterKeyHex)
	if err != nil {
		v.keyErr = err
		return v
	}
	v.verifier = verifier
	return v
}

// Ready reports whether prod taps can be verified.
func (v *AuthenticityValidator) Ready() error {
	return v.keyErr
}

// Validate checks the tag MAC of a prod tap. Dev taps pass only when dev mode
// is enabled.
func (v *AuthenticityValidator) Validate(ev model.TapEvent) error {
	if ev.Mode == model.TapModeDev {
		if !v.allowDevMode {
			return errutil.InvalidSignature(ErrDevModeDisabled)
		}
		return nil
	}

	if !ev.HasCounter || ev.CMAC == "" {
		return errutil.MissingParameter("counter and cmac are required in prod mode")
	}
	if v.verifier == nil {
		return errutil.Internal(v.keyErr)
	}
	if ev.Counter > ntag.MaxCounter {
		return errutil.InvalidSignature(fmt.Errorf("counter %d: %w", ev.Counter, ntag.ErrCounterRange))
	}

	if err := v.verifier.Verify(ev.UID, uint32(ev.Counter), ev.CMAC); err != nil {
		return errutil.InvalidSignature(err)
	}
	return nil
}
