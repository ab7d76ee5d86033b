package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openmsn/gomsn/pkg/network"
	"github.com/openmsn/gomsn/pkg/protocol"
)

// contactView is the JSON shape of a contact.
type contactView struct {
	Account       string `json:"account"`
	FriendlyName  string `json:"friendly_name,omitempty"`
	RealName      string `json:"real_name,omitempty"`
	Status        string `json:"status"`
	Lists         string `json:"lists"`
	Groups        []int  `json:"groups,omitempty"`
	MobileEnabled bool   `json:"mobile_enabled,omitempty"`
}

func viewContact(c network.Contact) contactView {
	return contactView{
		Account:       c.Account,
		FriendlyName:  c.FriendlyName,
		RealName:      c.RealName,
		Status:        c.Status.String(),
		Lists:         c.Lists.String(),
		Groups:        c.Groups,
		MobileEnabled: c.MobileEnabled,
	}
}

func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"account":       s.session.Account(),
		"status":        s.session.Status().String(),
		"friendly_name": s.session.FriendlyName(),
		"signed_in":     s.session.IsConnected(),
	})
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := protocol.ParseStatus(req.Status)
	if status == protocol.StatusUnknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status code"})
		return
	}
	if err := s.session.SetStatus(status); err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status.String()})
}

func (s *Server) handleSetName(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.session.SetFriendlyName(req.Name); err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"name": req.Name})
}

func (s *Server) handleContacts(c *gin.Context) {
	contacts := s.session.Contacts()
	views := make([]contactView, 0, len(contacts))
	for _, contact := range contacts {
		views = append(views, viewContact(contact))
	}
	c.JSON(http.StatusOK, gin.H{
		"contacts": views,
		"groups":   s.session.Groups(),
	})
}

func (s *Server) handleAddContact(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
		List    string `json:"list"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.List == "" {
		req.List = "FL"
	}

	lists, err := protocol.ParseListSet(req.List)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.session.AddContact(req.Account, lists); err != nil {
		if errors.Is(err, network.ErrReverseList) || errors.Is(err, protocol.ErrBadListCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"account": req.Account, "list": lists.String()})
}

func (s *Server) handleRemoveContact(c *gin.Context) {
	account := c.Param("account")
	listCode := c.DefaultQuery("list", "FL")

	lists, err := protocol.ParseListSet(listCode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.session.RemoveContact(account, lists); err != nil {
		if errors.Is(err, network.ErrReverseList) || errors.Is(err, protocol.ErrBadListCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"account": account, "list": lists.String()})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
		Body    string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.session.SendMessage(req.Account, req.Body); err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"account": req.Account})
}

func (s *Server) handleHistoryPeers(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no archive attached"})
		return
	}
	peers, err := s.archive.Peers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no archive attached"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	messages, err := s.archive.History(c.Param("account"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":  c.Param("account"),
		"messages": messages,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"signed_in": s.session.IsConnected(),
	})
}

// sessionError maps session failures onto HTTP status codes.
func (s *Server) sessionError(c *gin.Context, err error) {
	if errors.Is(err, network.ErrNotSignedIn) || errors.Is(err, network.ErrNotConnected) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
