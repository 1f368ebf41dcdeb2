package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iurnickita/teapot/internal/auth/config"
	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/service/identityclient"
	"github.com/iurnickita/teapot/internal/store"
	"github.com/iurnickita/teapot/internal/token"
)

type Auth interface {
	Login(c *gin.Context)
	Logout(c *gin.Context)
	Me(c *gin.Context)
	Middleware() gin.HandlerFunc
	RequireRole(roles ...model.Role) gin.HandlerFunc
}

const (
	userKey         = "user"
	claimsKey       = "claims"
	cookieUserToken = "teapotUserToken"
)

var (
	ErrNoSession     = errors.New("not signed in")
	ErrNoProfile     = errors.New("user has no staff profile")
	ErrForbiddenRole = errors.New("role has no access to this screen")
	ErrSessionEnded  = errors.New("identity session has ended")
)

type auth struct {
	cfg      config.Config
	store    store.Store
	identity identityclient.IdentityClient
	zaplog   *zap.Logger
}

func NewAuth(cfg config.Config, store store.Store, identity identityclient.IdentityClient, zaplog *zap.Logger) Auth {
	if cfg.TokenExpire <= 0 {
		cfg.TokenExpire = 12 * time.Hour
	}
	if zaplog == nil {
		zaplog = zap.NewNop()
	}
	return &auth{cfg: cfg, store: store, identity: identity, zaplog: zaplog}
}

// CurrentUser возвращает сотрудника, записанного Middleware.
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return model.User{}, false
	}
	user, ok := v.(model.User)
	return user, ok
}

type LoginJSONRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UserJSONResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func userJSON(user model.User) UserJSONResponse {
	return UserJSONResponse{ID: user.ID, Username: user.Data.Username, Role: string(user.Data.Role)}
}

func (a *auth) Login(c *gin.Context) {
	var req LoginJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	// вход во внешнем сервисе
	session, err := a.identity.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identityclient.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		a.zaplog.Error("identity sign-in failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity service unavailable"})
		return
	}

	// роль и имя хранятся в таблице users
	user, err := a.store.UserGet(c.Request.Context(), session.User.ID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			c.JSON(http.StatusForbidden, gin.H{"error": ErrNoProfile.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tokenString, err := token.BuildJWTString(user, session.AccessToken, a.cfg.TokenSecret, a.cfg.TokenExpire)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieUserToken, tokenString, int(a.cfg.TokenExpire/time.Second), "/", "", a.cfg.SecureCookie, true)
	a.zaplog.Info("user signed in", zap.String("username", user.Data.Username), zap.String("role", string(user.Data.Role)))
	c.JSON(http.StatusOK, userJSON(user))
}

func (a *auth) Logout(c *gin.Context) {
	if v, ok := c.Get(claimsKey); ok {
		claims := v.(token.Claims)
		if claims.Session != "" {
			// выход во внешнем сервисе не обязателен для завершения сессии
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			if err := a.identity.SignOut(ctx, claims.Session); err != nil {
				a.zaplog.Warn("identity sign-out failed", zap.Error(err))
			}
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieUserToken, "", -1, "/", "", a.cfg.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

func (a *auth) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrNoSession.Error()})
		return
	}

	// сессия во внешнем сервисе должна быть жива
	if v, ok := c.Get(claimsKey); ok && v.(token.Claims).Session != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		identityUser, err := a.identity.GetUser(ctx, v.(token.Claims).Session)
		switch {
		case errors.Is(err, identityclient.ErrInvalidCredentials),
			err == nil && identityUser.ID != user.ID:
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieUserToken, "", -1, "/", "", a.cfg.SecureCookie, true)
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrSessionEnded.Error()})
			return
		case err != nil:
			a.zaplog.Error("identity user lookup failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "identity service unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, userJSON(user))
}

func (a *auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// получение сотрудника из куки
		claims, err := a.getClaims(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		// записываем
		c.Set(claimsKey, claims)
		c.Set(userKey, claims.User())

		// передаём управление хендлеру
		c.Next()
	}
}

func (a *auth) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrNoSession.Error()})
			return
		}
		if !slices.Contains(roles, user.Data.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbiddenRole.Error()})
			return
		}
		c.Next()
	}
}

func (a *auth) getClaims(c *gin.Context) (token.Claims, error) {
	tokenString, err := c.Cookie(cookieUserToken)
	if err != nil || tokenString == "" {
		return token.Claims{}, ErrNoSession
	}
	return token.GetClaims(tokenString, a.cfg.TokenSecret)
}
