package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dledger/slipchain/backend/config"
	"github.com/dledger/slipchain/backend/service"
)

type WarrantyHandler struct {
	registry *service.RegistryService
	store    *service.SlipStore
	ledger   service.Ledger
	identity service.IdentityResolver
	config   *config.Config
}

func NewWarrantyHandler(registry *service.RegistryService, store *service.SlipStore, ledger service.Ledger, identity service.IdentityResolver, cfg *config.Config) *WarrantyHandler {
	return &WarrantyHandler{
		registry: registry,
		store:    store,
		ledger:   ledger,
		identity: identity,
		config:   cfg,
	}
}

// qrPayload is the JSON blob scanned off the product QR code
type qrPayload struct {
	ProductName string `json:"product_name"`
	WarrantyEnd string `json:"warranty_end"`
	IMEI        string `json:"imei"`
}

// Upload handles a plain slip upload: pin the document and mirror it,
// no ledger record.
func (h *WarrantyHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	ownerID := c.PostForm("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	slip, err := h.registry.Upload(c.Request.Context(), content, header.Filename, ownerID, c.PostForm("product_name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, slip)
}

// List returns mirrored slips, optionally filtered by owner
func (h *WarrantyHandler) List(c *gin.Context) {
	slips, err := h.store.List(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": slips})
}

// Register runs the full notarization workflow from a scanned QR code
// and receipt file. The qr_data blob is validated before anything is
// pinned.
func (h *WarrantyHandler) Register(c *gin.Context) {
	file, header, err := c.Request.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Receipt file, QR data, and email are required"})
		return
	}
	defer file.Close()

	qrData := c.PostForm("qr_data")
	email := c.PostForm("email")
	if qrData == "" || email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Receipt file, QR data, and email are required"})
		return
	}

	var qr qrPayload
	if err := json.Unmarshal([]byte(qrData), &qr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON in QR data: " + err.Error()})
		return
	}
	if qr.ProductName == "" || qr.WarrantyEnd == "" || qr.IMEI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "QR data must contain product_name, warranty_end, and imei"})
		return
	}
	endTS, err := service.EncodeDate(qr.WarrantyEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "warranty_end must be YYYY-MM-DD"})
		return
	}
	if todayTS, _ := service.EncodeDate(service.Today()); endTS < todayTS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "warranty_end is in the past"})
		return
	}

	ownerID, err := h.identity.Resolve(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, service.ErrIdentityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No user found with email: " + email})
			return
		}
		respondError(c, err)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read receipt"})
		return
	}

	slip, err := h.registry.Register(c.Request.Context(), service.RegisterInput{
		Content:     content,
		Filename:    header.Filename,
		ProductName: qr.ProductName,
		OwnerID:     ownerID,
		DeviceID:    qr.IMEI,
		WarrantyEnd: qr.WarrantyEnd,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Warranty registered successfully",
		"warranty": slip,
	})
}

// GetByDevice returns the on-chain record for a device
func (h *WarrantyHandler) GetByDevice(c *gin.Context) {
	record, err := h.ledger.GetByDevice(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// Validity reports whether the device's warranty exists and has not expired
func (h *WarrantyHandler) Validity(c *gin.Context) {
	valid, endDate, err := h.ledger.IsValid(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": c.Param("device_id"),
		"valid":     valid,
		"end_date":  endDate,
	})
}

// Issued lists device ids issued by the service signing identity
func (h *WarrantyHandler) Issued(c *gin.Context) {
	ids, err := h.ledger.ListIssued(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device_ids": ids})
}

type extendRequest struct {
	WarrantyEnd string `json:"warranty_end" binding:"required"`
}

// Extend moves a warranty end date forward
func (h *WarrantyHandler) Extend(c *gin.Context) {
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "warranty_end is required"})
		return
	}
	if _, err := service.EncodeDate(req.WarrantyEnd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "warranty_end must be YYYY-MM-DD"})
		return
	}

	deviceID := c.Param("device_id")
	if err := h.registry.Extend(c.Request.Context(), deviceID, req.WarrantyEnd); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":    deviceID,
		"warranty_end": req.WarrantyEnd,
	})
}

// UpdateDocument pins a replacement receipt and repoints the record
func (h *WarrantyHandler) UpdateDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No receipt provided"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read receipt"})
		return
	}

	deviceID := c.Param("device_id")
	contentHash, err := h.registry.UpdateDocument(c.Request.Context(), deviceID, content, header.Filename)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":    deviceID,
		"content_hash": contentHash,
	})
}

type transferRequest struct {
	NewOwner string `json:"new_owner"`
	Email    string `json:"email"`
}

// Transfer reassigns a warranty to a new owner, named either by ledger
// address or by an email with a configured wallet mapping.
func (h *WarrantyHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.NewOwner == "" && req.Email == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_owner address or email is required"})
		return
	}

	address := req.NewOwner
	newOwnerID := ""
	if address == "" {
		address = h.config.FindWallet(req.Email)
		if address == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Email not linked to a wallet"})
			return
		}
	}

	// When the recipient is named by email, follow the mirror owner too.
	if req.Email != "" {
		ownerID, err := h.identity.Resolve(c.Request.Context(), req.Email)
		if err == nil {
			newOwnerID = ownerID
		} else if !errors.Is(err, service.ErrIdentityNotFound) {
			respondError(c, err)
			return
		}
	}

	deviceID := c.Param("device_id")
	if err := h.registry.Transfer(c.Request.Context(), deviceID, address, newOwnerID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Ownership transfer successful",
		"device_id": deviceID,
		"new_owner": address,
	})
}

// respondError maps the service failure classes onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDuplicateContent),
		errors.Is(err, service.ErrDuplicateDevice),
		errors.Is(err, service.ErrLedgerWrite):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrLedgerConfirm):
		// Outcome unknown: the transaction may still land. The caller
		// must re-query the device before retrying.
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error": err.Error(),
			"hint":  "confirmation timed out; query the device record before retrying",
		})
	case errors.Is(err, service.ErrUpload),
		errors.Is(err, service.ErrLedgerConnect),
		errors.Is(err, service.ErrIdentityLookup):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
