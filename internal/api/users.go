package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/swisswing/microservice-users/internal/users"
)

// UsersHandler serves the users resource. It is only useful once a bootstrap
// run has completed; before that the store's queries fail against the empty
// database and surface as 500s.
type UsersHandler struct {
	store users.Store
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Ping handles GET /users/ping — a connectivity check for the resource.
func (h *UsersHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "pong!",
	})
}

// Create handles POST /users.
// Malformed JSON or a missing username/email key is a 400 "Invalid payload.";
// a duplicate email is a 400 with its own message.
func (h *UsersHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "fail",
			"message": "Invalid payload.",
		})
		return
	}

	u, err := h.store.Create(c.Request.Context(), req.Username, req.Email)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "fail",
				"message": "Sorry. That email already exists.",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database error",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("%s was added!", u.Email),
	})
}

// Get handles GET /users/:id.
// A non-numeric or unknown id is a 404 "User does not exist".
func (h *UsersHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.notFound(c)
		return
	}

	u, err := h.store.ByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			h.notFound(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   u,
	})
}

// List handles GET /users, returning every user ordered by id.
func (h *UsersHandler) List(c *gin.Context) {
	list, err := h.store.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   gin.H{"users": list},
	})
}

func (h *UsersHandler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"status":  "fail",
		"message": "User does not exist",
	})
}
