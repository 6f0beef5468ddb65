package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rbaliyan/mailroute/store"
)

// InputUser is the body of POST /users.
type InputUser struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required"`
	Credential string `json:"credential" validate:"required"`
}

// InputLogin is the body of POST /login.
type InputLogin struct {
	Email      string `json:"email" validate:"required"`
	Credential string `json:"credential" validate:"required"`
}

// InputRecover is the body of POST /recover.
type InputRecover struct {
	Name string `json:"name" validate:"required"`
}

// CreateUser registers a user. A taken email is 409.
func (s *Server) CreateUser(c *gin.Context) {
	var in InputUser
	if !s.bind(c, &in) {
		return
	}
	u, err := s.engine.CreateUser(c.Request.Context(), in.Name, in.Email, in.Credential)
	if err != nil {
		s.engineError(c, "create user", err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// ListUsers returns every user in ID order.
func (s *Server) ListUsers(c *gin.Context) {
	users, err := s.engine.ListUsers(c.Request.Context())
	if err != nil {
		s.engineError(c, "list users", err)
		return
	}
	if users == nil {
		users = []*store.User{}
	}
	c.JSON(http.StatusOK, users)
}

// GetUser returns one user.
func (s *Server) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	u, err := s.engine.FindUser(c.Request.Context(), id)
	if err != nil {
		s.engineError(c, "find user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// DeleteUser removes a user and all of their mail.
func (s *Server) DeleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	n, err := s.engine.DeleteUser(c.Request.Context(), id)
	if err != nil {
		s.engineError(c, "delete user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_messages": n})
}

// Login checks an email and credential pair.
func (s *Server) Login(c *gin.Context) {
	var in InputLogin
	if !s.bind(c, &in) {
		return
	}
	u, err := s.engine.Authenticate(c.Request.Context(), in.Email, in.Credential)
	if err != nil {
		s.engineError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// RecoverCredential returns the credential registered under a name.
func (s *Server) RecoverCredential(c *gin.Context) {
	var in InputRecover
	if !s.bind(c, &in) {
		return
	}
	cred, err := s.engine.RecoverCredential(c.Request.Context(), in.Name)
	if err != nil {
		s.engineError(c, "recover credential", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": cred})
}
