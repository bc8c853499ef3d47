package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
)

// UserAPI manages portal users. Listing needs read access; changes are admin only.
type UserAPI struct {
	db         *database.Database
	middleware *auth.AuthMiddleware
	bcryptCost int
	audit      *auditTrail
}

type CreateUserRequest struct {
	Username           string `json:"username" binding:"required,min=3,max=50"`
	Password           string `json:"password" binding:"required,min=8"`
	Email              string `json:"email" binding:"omitempty,email"`
	FullName           string `json:"full_name" binding:"max=100"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

// UpdateUserRequest is a partial update; nil fields are left unchanged.
type UpdateUserRequest struct {
	Email    *string `json:"email" binding:"omitempty,email"`
	FullName *string `json:"full_name" binding:"omitempty,max=100"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
	Password *string `json:"password" binding:"omitempty,min=8"`
}

// NewUserAPI creates a new portal user API instance.
func NewUserAPI(db *database.Database, middleware *auth.AuthMiddleware, bcryptCost int, logger *monitoring.LogManager) *UserAPI {
	return &UserAPI{
		db:         db,
		middleware: middleware,
		bcryptCost: bcryptCost,
		audit:      &auditTrail{db: db, logger: logger.WithComponent("user-api")},
	}
}

// RegisterRoutes registers the portal user routes.
func (api *UserAPI) RegisterRoutes(router gin.IRouter) {
	users := router.Group("/api/users", api.middleware.RequireAuth())
	{
		users.GET("", api.middleware.RequirePermission(auth.PermRead), api.ListUsers)
		users.POST("", api.middleware.RequirePermission(auth.PermAdmin), api.CreateUser)
		users.PATCH("/:id", api.middleware.RequirePermission(auth.PermAdmin), api.UpdateUser)
	}
}

// ListUsers returns all portal users ordered by username.
func (api *UserAPI) ListUsers(c *gin.Context) {
	users, err := api.db.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// CreateUser creates a portal user. The role defaults to viewer.
func (api *UserAPI) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = database.RoleViewer
	}
	if !auth.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid role"})
		return
	}

	user := &database.User{
		Username:           req.Username,
		Email:              req.Email,
		FullName:           req.FullName,
		Role:               req.Role,
		IsActive:           true,
		MustChangePassword: req.MustChangePassword,
	}
	if err := api.db.CreateUserWithCredentials(c.Request.Context(), user, req.Password, api.bcryptCost); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create user"})
		return
	}

	api.audit.record(c, ActionCreate, EntityUser, strconv.FormatUint(uint64(user.ID), 10),
		fmt.Sprintf("Created user %s with role %s", user.Username, user.Role))
	c.JSON(http.StatusCreated, user)
}

// UpdateUser applies a partial update to a portal user. Admins cannot demote
// or deactivate their own account.
func (api *UserAPI) UpdateUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Role != nil && !auth.ValidRole(*req.Role) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid role"})
		return
	}

	ctx := c.Request.Context()
	user, err := api.db.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get user"})
		return
	}

	if currentID, _ := auth.GetUserID(c); currentID == user.ID {
		if (req.Role != nil && *req.Role != user.Role) || (req.IsActive != nil && !*req.IsActive) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Cannot demote or deactivate your own account"})
			return
		}
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Password != nil {
		hash, err := database.HashPassword(*req.Password, api.bcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to hash password"})
			return
		}
		user.Password = hash
	}

	if err := api.db.UpdateUser(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update user"})
		return
	}

	api.audit.record(c, ActionUpdate, EntityUser, strconv.FormatUint(uint64(user.ID), 10),
		"Updated user "+user.Username)
	c.JSON(http.StatusOK, user)
}
