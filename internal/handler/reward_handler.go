package handler

import (
	"net/http"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/service"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RewardHandler handles stamp cards and pending claims
type RewardHandler struct {
	rewards *service.RewardService
}

func NewRewardHandler(rewards *service.RewardService) *RewardHandler {
	return &RewardHandler{rewards: rewards}
}

// Claim godoc
// @Summary Redeem the claim token of an anonymous tap
// @Tags Rewards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.ClaimRequest true "Claim request"
// @Success 200 {object} model.ClaimResult
// @Failure 410 {object} model.ClaimResult
// @Router /rewards/claim [post]
func (h *RewardHandler) Claim(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)

	var req model.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: string(errutil.ReasonMissingParameter), Message: err.Error()})
		return
	}

	stamps, err := h.rewards.Redeem(c.Request.Context(), req.Token, userID)
	if err != nil {
		reason := errutil.ReasonOf(err)
		c.JSON(reason.HTTPStatus(), model.ClaimResult{Redeemed: false, Reason: string(reason)})
		return
	}

	c.JSON(http.StatusOK, model.ClaimResult{Redeemed: true, Stamps: stamps})
}

// Cards godoc
// @Summary List the current user's stamp cards
// @Tags Rewards
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.CardResponse
// @Router /rewards/cards [get]
func (h *RewardHandler) Cards(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)

	cards, err := h.rewards.Cards(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: string(errutil.ReasonInternal)})
		return
	}

	c.JSON(http.StatusOK, cards)
}
