package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradehook/internal/combo"
	"tradehook/pkg/db"
)

// getPositions lists the authenticated account's tracked positions.
func (s *Server) getPositions(c *gin.Context) {
	accountID := CurrentAccountID(c)
	positions := s.Positions.ListAccount(accountID)
	if positions == nil {
		positions = []db.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// getRiskSettings returns the effective settings per venue for the account.
func (s *Server) getRiskSettings(c *gin.Context) {
	accountID := CurrentAccountID(c)
	venueType := c.Query("venue")
	if venueType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_QUERY", "error": "venue query parameter required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"venue":    venueType,
		"settings": s.Settings.For(accountID, venueType),
	})
}

// setKillSwitch flips the kill switch for one venue of the account.
func (s *Server) setKillSwitch(c *gin.Context) {
	accountID := CurrentAccountID(c)
	var req struct {
		Venue   string `json:"venue"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.BindJSON(&req); err != nil || req.Venue == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "venue and enabled required"})
		return
	}
	s.Settings.SetKillSwitch(accountID, req.Venue, req.Enabled)
	c.JSON(http.StatusOK, gin.H{"venue": req.Venue, "kill_switch": req.Enabled})
}

// createCredential stores venue credentials for the account. The secret is
// sealed before it touches the database and the plaintext is dropped with
// the request.
func (s *Server) createCredential(c *gin.Context) {
	accountID := CurrentAccountID(c)
	var req struct {
		Venue   string `json:"venue"`
		APIKey  string `json:"api_key"`
		Secret  string `json:"secret"`
		Sandbox bool   `json:"sandbox"`
	}
	if err := c.BindJSON(&req); err != nil || req.Venue == "" || req.APIKey == "" || req.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "venue, api_key and secret required"})
		return
	}

	sealed, err := s.Vault.Seal(req.Secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "could not seal secret"})
		return
	}
	cred := db.Credential{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		VenueType:       req.Venue,
		APIKey:          req.APIKey,
		SecretEncrypted: sealed,
		Sandbox:         req.Sandbox,
	}
	if err := s.DB.CreateCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CREDENTIAL_EXISTS", "error": "active credential already present for venue"})
		return
	}
	// A cached adapter built from an older credential must not survive.
	s.Venues.Drop(accountID, req.Venue)
	c.JSON(http.StatusCreated, gin.H{"credential_id": cred.ID})
}

// submitCombo places a multi-leg option trade.
func (s *Server) submitCombo(c *gin.Context) {
	accountID := CurrentAccountID(c)
	var req combo.Request
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid combo request"})
		return
	}
	req.AccountID = accountID

	trade, err := combo.Submit(c.Request.Context(), s.DB, s.Venues, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "COMBO_REJECTED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"combo_id": trade.ID, "status": trade.Status})
}
