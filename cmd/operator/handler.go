package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Credentials the mock upstream expects. Empty values disable signature checks.
type Credentials struct {
	DigiflazzUsername     string
	DigiflazzApiKey       string
	TokoVoucherMemberCode string
	TokoVoucherSecret     string
}

type digiflazzRequest struct {
	Username     string `json:"username" binding:"required"`
	BuyerSkuCode string `json:"buyer_sku_code" binding:"required"`
	CustomerNo   string `json:"customer_no" binding:"required"`
	RefID        string `json:"ref_id" binding:"required"`
	Sign         string `json:"sign" binding:"required"`
	Testing      bool   `json:"testing"`
}

type digiflazzData struct {
	RefID        string `json:"ref_id"`
	CustomerNo   string `json:"customer_no"`
	BuyerSkuCode string `json:"buyer_sku_code"`
	Message      string `json:"message"`
	Status       string `json:"status"`
	RC           string `json:"rc"`
	SN           string `json:"sn"`
	Price        int64  `json:"price"`
}

type tokoVoucherRequest struct {
	RefID      string `json:"ref_id" binding:"required"`
	Produk     string `json:"produk" binding:"required"`
	Tujuan     string `json:"tujuan" binding:"required"`
	ServerID   string `json:"server_id"`
	MemberCode string `json:"member_code" binding:"required"`
	Signature  string `json:"signature" binding:"required"`
}

type tokoVoucherResponse struct {
	Status   any    `json:"status"`
	Message  string `json:"message,omitempty"`
	ErrorMsg string `json:"error_msg,omitempty"`
	SN       string `json:"sn,omitempty"`
	TrxID    string `json:"trx_id,omitempty"`
	RefID    string `json:"ref_id,omitempty"`
	Price    int64  `json:"price,omitempty"`
}

type Handler struct {
	upstream *Upstream
	creds    Credentials
}

func NewHandler(upstream *Upstream, creds Credentials) *Handler {
	return &Handler{upstream: upstream, creds: creds}
}

// Digiflazz answers POST /v1/transaction for purchases and status checks alike.
func (h *Handler) Digiflazz(c *gin.Context) {
	var req digiflazzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"data": digiflazzData{Status: "Gagal", RC: "50", Message: "Format request salah"}})
		return
	}

	if h.creds.DigiflazzApiKey != "" &&
		(req.Username != h.creds.DigiflazzUsername || req.Sign != md5Hex(req.Username+h.creds.DigiflazzApiKey+req.RefID)) {
		log.Warn().Str("ref_id", req.RefID).Msg("digiflazz signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"data": digiflazzData{RefID: req.RefID, Status: "Gagal", RC: "41", Message: "Signature Anda salah"}})
		return
	}

	state := h.upstream.Call(req.RefID, req.BuyerSkuCode)
	data := digiflazzData{
		RefID:        req.RefID,
		CustomerNo:   req.CustomerNo,
		BuyerSkuCode: req.BuyerSkuCode,
		Status:       string(state.Status),
		SN:           state.SN,
		Price:        state.Price,
	}
	switch state.Status {
	case OrderSukses:
		data.RC, data.Message = "00", "Transaksi Sukses"
	case OrderPending:
		data.RC, data.Message = "03", "Transaksi Pending"
	default:
		data.RC, data.Message = "40", state.Reason
	}

	log.Info().Str("ref_id", req.RefID).Str("status", data.Status).Bool("testing", req.Testing).Msg("digiflazz transaction")
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// TokoVoucher answers POST /v1/transaksi.
func (h *Handler) TokoVoucher(c *gin.Context) {
	var req tokoVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, tokoVoucherResponse{Status: 0, ErrorMsg: "Parameter tidak lengkap"})
		return
	}

	if h.creds.TokoVoucherSecret != "" &&
		(req.MemberCode != h.creds.TokoVoucherMemberCode ||
			req.Signature != md5Hex(req.MemberCode+":"+h.creds.TokoVoucherSecret+":"+req.RefID)) {
		log.Warn().Str("ref_id", req.RefID).Msg("tokovoucher signature rejected")
		c.JSON(http.StatusOK, tokoVoucherResponse{Status: 0, ErrorMsg: "Signature tidak valid"})
		return
	}

	state := h.upstream.Call(req.RefID, req.Produk)
	resp := tokoVoucherResponse{RefID: req.RefID, TrxID: state.TrxID, Price: state.Price}
	switch state.Status {
	case OrderSukses:
		resp.Status, resp.Message, resp.SN = "sukses", "Transaksi sukses", state.SN
	case OrderPending:
		resp.Status, resp.Message = "pending", "Transaksi sedang diproses"
	default:
		resp.Status, resp.Message, resp.SN = "gagal", "Transaksi gagal", state.Reason
	}

	log.Info().Str("ref_id", req.RefID).Str("trx_id", state.TrxID).Interface("status", resp.Status).Msg("tokovoucher transaction")
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "orders": h.upstream.Stats()})
}

func SetupRouter(handler *Handler, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger)
	router.Use(middleware...)

	router.POST("/v1/transaction", handler.Digiflazz)
	router.POST("/v1/transaksi", handler.TokoVoucher)
	router.GET("/health", handler.Health)
	return router
}
