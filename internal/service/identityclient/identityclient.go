package identityclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/teapot/internal/service/identityclient/config"
)

// JSON ответы сервиса аутентификации

type Session struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         IdentityUser `json:"user"`
}

type IdentityUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e apiError) message() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Msg != "":
		return e.Msg
	default:
		return e.Error
	}
}

var ErrInvalidCredentials = errors.New("invalid login credentials")

type IdentityClient interface {
	SignIn(ctx context.Context, email string, password string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (IdentityUser, error)
}

type identityClient struct {
	http *resty.Client
}

func NewIdentityClient(cfg config.Config) IdentityClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/auth/v1").
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return identityClient{http: client}
}

func (client identityClient) SignIn(ctx context.Context, email string, password string) (Session, error) {
	var session Session
	var apiErr apiError
	resp, err := client.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&session).
		SetError(&apiErr).
		Post("/token")
	if err != nil {
		return Session{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return session, nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.message())
	default:
		return Session{}, fmt.Errorf("identity sign-in status: %d", resp.StatusCode())
	}
}

func (client identityClient) SignOut(ctx context.Context, accessToken string) error {
	resp, err := client.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Post("/logout")
	if err != nil {
		return err
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("identity sign-out status: %d", resp.StatusCode())
	}
}

func (client identityClient) GetUser(ctx context.Context, accessToken string) (IdentityUser, error) {
	var user IdentityUser
	resp, err := client.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&user).
		Get("/user")
	if err != nil {
		return IdentityUser{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return user, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return IdentityUser{}, ErrInvalidCredentials
	default:
		return IdentityUser{}, fmt.Errorf("identity user status: %d", resp.StatusCode())
	}
}
