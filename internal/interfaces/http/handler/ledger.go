package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	appbilling "github.com/usagebill/backend/internal/application/billing"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/interfaces/http/dto"
	"github.com/usagebill/backend/internal/interfaces/http/middleware"
)

// LedgerQuerier is the ledger surface the operator API needs
type LedgerQuerier interface {
	Get(ctx context.Context, key billing.WindowKey) (*billing.LedgerRecord, error)
	History(ctx context.Context, key billing.WindowKey) ([]*billing.LedgerRecord, error)
	List(ctx context.Context, filter billing.LedgerFilter) ([]*billing.LedgerRecord, int64, error)
	Override(ctx context.Context, req appbilling.OverrideRequest) (*billing.LedgerRecord, error)
}

// LedgerHandler serves ledger queries and overrides
type LedgerHandler struct {
	BaseHandler
	ledger LedgerQuerier
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledger LedgerQuerier) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// List godoc
// @ID           listLedgerWindows
//
//	@Summary		List window heads
//	@Description	Returns a page of ledger heads, newest window first
//	@Tags			ledger
//	@Produce		json
//	@Param			tenant_id	query		string	false	"Tenant ID"
//	@Param			stage		query		string	false	"Ledger stage"	Enums(transformed, rated)
//	@Param			from		query		string	false	"Window start lower bound (RFC 3339)"
//	@Param			to			query		string	false	"Window start upper bound (RFC 3339)"
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"		default(50)	maximum(500)
//	@Success		200			{object}	APIResponse[[]dto.LedgerRecordResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/v1/ledger [get]
func (h *LedgerHandler) List(c *gin.Context) {
	var q dto.LedgerListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	filter := q.Filter()
	records, total, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, dto.ToLedgerRecordResponses(records), total, filter.Page, filter.PageSize)
}

// Get godoc
// @ID           getLedgerWindow
//
//	@Summary		Get a window
//	@Description	Returns the head of one window including its entries. With history=true it returns every revision instead.
//	@Tags			ledger
//	@Produce		json
//	@Param			tenant	path		string	true	"Tenant ID"
//	@Param			start	path		string	true	"Window start (RFC 3339)"
//	@Param			end		path		string	true	"Window end (RFC 3339)"
//	@Param			history	query		bool	false	"Return every revision"
//	@Success		200		{object}	APIResponse[dto.LedgerRecordResponse]
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/ledger/{tenant}/{start}/{end} [get]
func (h *LedgerHandler) Get(c *gin.Context) {
	key, ok := h.bindKey(c)
	if !ok {
		return
	}
	if c.Query("history") == "true" {
		records, err := h.ledger.History(c.Request.Context(), key)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, dto.ToLedgerRecordResponses(records))
		return
	}
	record, err := h.ledger.Get(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToLedgerRecordResponse(record, true))
}

// Override godoc
// @ID           overrideLedgerWindow
//
//	@Summary		Reopen a rated window
//	@Description	Appends an override revision so the next cycle transforms and rates the window again
//	@Tags			ledger
//	@Accept			json
//	@Produce		json
//	@Param			tenant	path		string				true	"Tenant ID"
//	@Param			start	path		string				true	"Window start (RFC 3339)"
//	@Param			end		path		string				true	"Window end (RFC 3339)"
//	@Param			request	body		dto.OverrideRequest	true	"Override reason"
//	@Success		200		{object}	APIResponse[dto.LedgerRecordResponse]
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/api/v1/ledger/{tenant}/{start}/{end}/override [post]
func (h *LedgerHandler) Override(c *gin.Context) {
	key, ok := h.bindKey(c)
	if !ok {
		return
	}
	var req dto.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	record, err := h.ledger.Override(c.Request.Context(), appbilling.OverrideRequest{
		Key:    key,
		Reason: req.Reason,
		Actor:  middleware.GetOperator(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToLedgerRecordResponse(record, false))
}

func (h *LedgerHandler) bindKey(c *gin.Context) (billing.WindowKey, bool) {
	var uri dto.WindowKeyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return billing.WindowKey{}, false
	}
	key, err := uri.Key()
	if err != nil {
		h.BadRequest(c, "window bounds must be RFC 3339 timestamps")
		return billing.WindowKey{}, false
	}
	return key, true
}
