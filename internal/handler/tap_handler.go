package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/service"
	"github.com/aionloyalty/aion/pkg/auth"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TapVerifier is the pipeline behind the tap endpoint
type TapVerifier interface {
	Verify(ctx context.Context, ev model.TapEvent, bearer string) (*model.TapOutcome, error)
}

// TapHandler turns tap URLs into redirects
type TapHandler struct {
	taps      TapVerifier
	cfg       config.TapConfig
	publicURL string
	log       *zap.Logger
}

func NewTapHandler(taps TapVerifier, cfg config.TapConfig, publicURL string, log *zap.Logger) *TapHandler {
	return &TapHandler{
		taps:      taps,
		cfg:       cfg,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
	}
}

// VerifyTap godoc
// @Summary Verify an NFC/QR tap and award a stamp
// @Description Redirects to the success page, to login with a pending claim token, or to the error page with a reason code.
// @Tags Tap
// @Produce json
// @Param uid query string true "Device UID"
// @Param counter query int false "Tap counter (required in prod mode)"
// @Param cmac query string false "SUN MAC hex (required in prod mode)"
// @Param mode query string false "dev or prod" Enums(dev, prod)
// @Success 302
// @Failure 400 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /verify-tap [get]
func (h *TapHandler) VerifyTap(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("tap handler panic", zap.Any("panic", r), zap.Stack("stack"))
			c.AbortWithStatusJSON(http.StatusInternalServerError, model.ErrorResponse{Error: string(errutil.ReasonInternal)})
		}
	}()

	c.Header("Cache-Control", "no-store")

	var req model.TapRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.renderError(c, errutil.MissingParameter("invalid query string"))
		return
	}

	ev, err := service.ParseTapRequest(req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	bearer, _ := auth.BearerToken(c.GetHeader("Authorization"))
	outcome, err := h.taps.Verify(c.Request.Context(), ev, bearer)
	if err != nil {
		h.renderError(c, err)
		return
	}

	switch outcome.Status {
	case model.TapStatusAwarded:
		c.Redirect(http.StatusFound, h.location(h.cfg.SuccessPath,
			"status", "success",
			"stamps", strconv.Itoa(outcome.Stamps),
		))
	case model.TapStatusDeferred:
		c.Redirect(http.StatusFound, h.location(h.cfg.LoginPath,
			"pending", outcome.ClaimToken,
			"redirect", h.cfg.PostLoginPath,
		))
	default:
		h.renderError(c, errutil.Internal(errors.New("unknown tap outcome "+string(outcome.Status))))
	}
}

// renderError answers malformed requests and faults with JSON; every business
// rejection becomes an opaque redirect carrying only the reason code.
func (h *TapHandler) renderError(c *gin.Context, err error) {
	reason := errutil.ReasonOf(err)
	switch reason {
	case errutil.ReasonMissingParameter:
		resp := model.ErrorResponse{Error: string(reason)}
		var be errutil.BaseError
		if errors.As(err, &be) {
			resp.Message = be.Message
		}
		c.JSON(http.StatusBadRequest, resp)
	case errutil.ReasonInternal:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: string(reason)})
	default:
		c.Redirect(http.StatusFound, h.location(h.cfg.ErrorPath,
			"status", "error",
			"reason", string(reason),
		))
	}
}

// location builds publicURL + path + query, keeping the parameter order given
// as key/value pairs.
func (h *TapHandler) location(path string, kv ...string) string {
	var b strings.Builder
	b.WriteString(h.publicURL)
	b.WriteString(path)
	for i := 0; i+1 < len(kv); i += 2 {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[i+1]))
	}
	return b.String()
}
