package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

// Cookie names shared with the browser.
const (
	UserIDCookie       = "userId"
	LoggedInHashCookie = "loggedInHash"
	ModeCookie         = "mode"
)

const (
	DefaultPhoto    = "/profile-photos/anonymous-person.jpg"
	photoPathPrefix = "/profile-photos/"
)

// Role is the side of a consultation a user acts on.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// User is the authenticated principal attached to a request.
type User struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	Email                  string `json:"email"`
	Photo                  string `json:"photo"`
	IsDoctor               bool   `json:"is_doctor"`
	Allergies              string `json:"allergies,omitempty"`
	ConsultationPriceCents int64  `json:"consultation_price_cents,omitempty"`
}

// UserDirectory loads the session user. Implementations return errors
// wrapping apperror.ErrNotFound or apperror.ErrServiceUnavailable.
type UserDirectory interface {
	FindSessionUser(ctx context.Context, id int64) (*User, error)
}

// Cookies are the two session cookies as received.
type Cookies struct {
	UserID       string
	LoggedInHash string
}

// ReadCookies extracts the session cookies from a request. Missing cookies
// come back as empty strings.
func ReadCookies(r *http.Request) Cookies {
	var out Cookies
	if ck, err := r.Cookie(UserIDCookie); err == nil {
		out.UserID = ck.Value
	}
	if ck, err := r.Cookie(LoggedInHashCookie); err == nil {
		out.LoggedInHash = ck.Value
	}
	return out
}

// Verifier authenticates requests from their session cookies. It holds no
// per-request state; every call performs a fresh user lookup.
type Verifier struct {
	hasher *Hasher
	users  UserDirectory
	logger zerolog.Logger
}

func NewVerifier(hasher *Hasher, users UserDirectory, logger zerolog.Logger) *Verifier {
	return &Verifier{hasher: hasher, users: users, logger: logger}
}

// Verify returns the user named by the cookies. Missing cookies and hash
// mismatches both yield ErrUnauthenticated; the log line is the only place
// the two cases are told apart. Lookup failures, including a valid hash for
// a user that no longer exists, yield ErrServiceUnavailable.
func (v *Verifier) Verify(ctx context.Context, ck Cookies) (*User, error) {
	if ck.UserID == "" || ck.LoggedInHash == "" {
		v.logger.Debug().Msg("no cookies")
		return nil, apperror.ErrUnauthenticated
	}

	if !v.hasher.Matches(ck.UserID, ck.LoggedInHash) {
		v.logger.Info().Str("user_id", ck.UserID).Msg("cookie hash mismatch")
		return nil, apperror.ErrUnauthenticated
	}

	id, err := strconv.ParseInt(ck.UserID, 10, 64)
	if err != nil {
		v.logger.Info().Str("user_id", ck.UserID).Msg("malformed user id cookie")
		return nil, apperror.ErrUnauthenticated
	}

	user, err := v.users.FindSessionUser(ctx, id)
	if err != nil {
		v.logger.Error().Err(err).Int64("user_id", id).Msg("session user lookup failed")
		if errors.Is(err, apperror.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, apperror.Unavailable("load session user", err)
	}
	if user == nil {
		v.logger.Error().Int64("user_id", id).Msg("session user missing")
		return nil, apperror.Unavailable("load session user", apperror.NotFound("user"))
	}

	user.Photo = NormalizePhoto(user.Photo)
	return user, nil
}

// NormalizePhoto maps a stored photo value to a URL the browser can load:
// empty becomes the placeholder, a bare file name is served from the local
// photo directory, and absolute URLs pass through.
func NormalizePhoto(photo string) string {
	switch {
	case photo == "":
		return DefaultPhoto
	case strings.HasPrefix(photo, "http://"), strings.HasPrefix(photo, "https://"),
		strings.HasPrefix(photo, photoPathPrefix):
		return photo
	default:
		return photoPathPrefix + strings.TrimPrefix(photo, "/")
	}
}

// SetSessionCookies issues the cookies for a freshly authenticated user.
// Doctors start in patient mode.
func SetSessionCookies(c echo.Context, hasher *Hasher, user *User, secure bool) {
	id := strconv.FormatInt(user.ID, 10)
	c.SetCookie(sessionCookie(UserIDCookie, id, secure))
	c.SetCookie(sessionCookie(LoggedInHashCookie, hasher.Hash(id), secure))
	if user.IsDoctor {
		SetMode(c, RolePatient, secure)
	}
}

// ClearSessionCookies expires every cookie the session set.
func ClearSessionCookies(c echo.Context, secure bool) {
	for _, name := range []string{UserIDCookie, LoggedInHashCookie, ModeCookie} {
		ck := sessionCookie(name, "", secure)
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}

// SetMode stores the UI mode cookie. It only selects which dashboard a
// doctor sees and is never used for authorization decisions on its own.
func SetMode(c echo.Context, mode Role, secure bool) {
	c.SetCookie(sessionCookie(ModeCookie, string(mode), secure))
}

// ModeFromRequest returns the role a user is acting as. Patients are always
// patients; doctors act as doctors unless the mode cookie says otherwise.
func ModeFromRequest(r *http.Request, user *User) Role {
	if user == nil || !user.IsDoctor {
		return RolePatient
	}
	if ck, err := r.Cookie(ModeCookie); err == nil && ck.Value == string(RolePatient) {
		return RolePatient
	}
	return RoleDoctor
}

func sessionCookie(name, value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: name != ModeCookie,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
