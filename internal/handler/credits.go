package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/middleware"
	"github.com/storycanvas/api/internal/model"
	"github.com/storycanvas/api/pkg/response"
)

type CreditsHandler struct {
	ledger client.CreditLedger
}

func NewCreditsHandler(ledger client.CreditLedger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// Balance handles GET /api/credits/balance
func (h *CreditsHandler) Balance(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	balance, err := h.ledger.Balance(c.Context(), userID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.BalanceResponse{
		UserID:  userID,
		Balance: balance,
	})
}
