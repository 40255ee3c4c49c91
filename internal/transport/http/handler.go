package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cardforge/card-service/internal/repo"
	"github.com/cardforge/card-service/internal/service"
)

// Services bundles what the handlers call into.
type Services struct {
	Cards     *service.CardService
	Blocks    *service.BlockService
	Customers *service.CustomerService
}

// RegisterHandlers mounts the v1 API. Authentication happens upstream; the
// caller identity arrives resolved in X-User-ID / X-Admin-ID headers.
func RegisterHandlers(r *gin.Engine, svc Services) {
	v1 := r.Group("/v1")
	{
		v1.POST("/customers", createCustomerHandler(svc.Customers))
		v1.PATCH("/customers/:id/status", updateCustomerStatusHandler(svc.Customers))
		v1.DELETE("/customers/:id", deleteCustomerHandler(svc.Customers))

		v1.POST("/cards", issueCardHandler(svc.Cards))
		v1.GET("/cards/:id/balance", balanceHandler(svc.Cards))
		v1.POST("/cards/:id/deposit", adjustHandler(svc.Cards, false))
		v1.POST("/cards/:id/withdraw", adjustHandler(svc.Cards, true))
		v1.POST("/cards/:id/transfer", transferHandler(svc.Cards))

		v1.POST("/cards/:id/block-requests", createBlockRequestHandler(svc.Blocks))
		v1.POST("/cards/:id/block-requests/approve", resolveBlockHandler(svc.Blocks, true))
		v1.POST("/cards/:id/block-requests/reject", resolveBlockHandler(svc.Blocks, false))
	}
}

// statusFor maps the service error taxonomy onto HTTP codes.
func statusFor(err error) int {
	var nf *service.NotFoundError
	var blocked *service.CardBlockedError
	var cfgErr *service.StatusNotConfiguredError
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden
	case errors.As(err, &blocked),
		errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, service.ErrNoPendingRequest),
		errors.Is(err, service.ErrIssuanceExhausted),
		errors.Is(err, service.ErrOwnerDeleted),
		errors.Is(err, repo.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrSelfTransfer):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func callerID(c *gin.Context, header string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(header))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + header})
		return uuid.Nil, false
	}
	return id, true
}

func cardID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return 0, false
	}
	return id, true
}

type createCustomerReq struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

func createCustomerHandler(svc *service.CustomerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCustomerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cust, err := svc.CreateCustomer(c, req.Name, req.Email)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, cust)
	}
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func updateCustomerStatusHandler(svc *service.CustomerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStatusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}
		cust, err := svc.UpdateCustomerStatus(c, id, req.Status)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, cust)
	}
}

func deleteCustomerHandler(svc *service.CustomerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}
		if err := svc.DeleteCustomer(c, id); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func issueCardHandler(svc *service.CardService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := callerID(c, "X-User-ID")
		if !ok {
			return
		}
		card, err := svc.IssueCard(c, ownerID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, card)
	}
}

func balanceHandler(svc *service.CardService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := cardID(c)
		if !ok {
			return
		}
		bal, err := svc.GetBalance(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

type amountReq struct {
	Amount string `json:"amount" binding:"required"`
}

func adjustHandler(svc *service.CardService, withdraw bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := cardID(c)
		if !ok {
			return
		}
		requester, ok := callerID(c, "X-User-ID")
		if !ok {
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		var bal decimal.Decimal
		if withdraw {
			bal, err = svc.Withdraw(c, id, amt, requester)
		} else {
			bal, err = svc.Deposit(c, id, amt, requester)
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

type transferReq struct {
	ToID   string `json:"to_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func transferHandler(svc *service.CardService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fromID, ok := cardID(c)
		if !ok {
			return
		}
		requester, ok := callerID(c, "X-User-ID")
		if !ok {
			return
		}
		toID, err := strconv.ParseUint(req.ToID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to_id"})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		fromBal, toBal, err := svc.Transfer(c, fromID, toID, amt, requester)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"from_balance": fromBal, "to_balance": toBal})
	}
}

func createBlockRequestHandler(svc *service.BlockService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := cardID(c)
		if !ok {
			return
		}
		requester, ok := callerID(c, "X-User-ID")
		if !ok {
			return
		}
		req, err := svc.CreateBlockRequest(c, id, requester)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, req)
	}
}

func resolveBlockHandler(svc *service.BlockService, approve bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := cardID(c)
		if !ok {
			return
		}
		admin, ok := callerID(c, "X-Admin-ID")
		if !ok {
			return
		}
		var err error
		var req interface{}
		if approve {
			req, err = svc.ApproveBlock(c, id, admin)
		} else {
			req, err = svc.RejectBlock(c, id, admin)
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	}
}
