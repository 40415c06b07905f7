package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/service"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

type authHandlers struct {
	svc    *service.AuthService
	logger *slog.Logger
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func toAuthTokens(t *service.Tokens) sdk.AuthTokens {
	return sdk.AuthTokens{
		Access:  t.Access,
		Refresh: t.Refresh,
		User: &sdk.UserSummary{
			ID:        sdk.FlexibleID(t.User.ID),
			Email:     t.User.Email,
			FirstName: t.User.FirstName,
			LastName:  t.User.LastName,
		},
	}
}

// login answers with tokens for trusted devices and with
// 200 {"detail":"OTP_REQUIRED"} otherwise.
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req sdk.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeDetail(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	if strings.TrimSpace(req.DeviceIdentifier) == "" {
		writeDetail(w, http.StatusBadRequest, "deviceIdentifier is required")
		return
	}

	res, err := h.svc.Login(r.Context(), service.LoginInput{
		Email:            req.Email,
		Password:         req.Password,
		DeviceIdentifier: req.DeviceIdentifier,
	})
	if err != nil {
		writeError(w, h.logger, "login", err)
		return
	}
	if res.OTPRequired {
		writeDetail(w, http.StatusOK, sdk.DetailOTPRequired)
		return
	}
	writeJSON(w, http.StatusOK, toAuthTokens(res.Tokens))
}

func (h *authHandlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req sdk.VerifyOTPRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.DeviceIdentifier) == "" {
		writeDetail(w, http.StatusBadRequest, "email, code and deviceIdentifier are required")
		return
	}

	tokens, err := h.svc.VerifyOTP(r.Context(), service.VerifyOTPInput{
		Email:            req.Email,
		Code:             strings.TrimSpace(req.Code),
		DeviceIdentifier: req.DeviceIdentifier,
	})
	if err != nil {
		writeError(w, h.logger, "verify_otp", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthTokens(tokens))
}

type roleResponse struct {
	ID          int64                 `json:"id"`
	Name        string                `json:"name"`
	IsPrimary   bool                  `json:"is_primary"`
	IsActive    bool                  `json:"is_active"`
	Permissions []sdk.PermissionGrant `json:"permissions"`
}

type profileResponse struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	ProfilePicture string         `json:"profile_picture"`
	Roles          []roleResponse `json:"roles"`
}

type permissionsResponse struct {
	Role        string                `json:"role"`
	Permissions []sdk.PermissionGrant `json:"permissions"`
	Profile     profileResponse       `json:"profile"`
}

func toWireGrants(grants []service.Grant) []sdk.PermissionGrant {
	out := make([]sdk.PermissionGrant, 0, len(grants))
	for _, g := range grants {
		out = append(out, sdk.PermissionGrant{
			FeatureCode: g.FeatureCode,
			CanView:     g.CanView,
			CanCreate:   g.CanCreate,
			CanEdit:     g.CanEdit,
			CanDelete:   g.CanDelete,
		})
	}
	return out
}

func (h *authHandlers) permissions(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	perms, err := h.svc.Permissions(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, h.logger, "permissions", err)
		return
	}

	resp := permissionsResponse{
		Role:        perms.Role,
		Permissions: toWireGrants(perms.Permissions),
		Profile: profileResponse{
			ID:             perms.User.ID,
			Email:          perms.User.Email,
			FirstName:      perms.User.FirstName,
			LastName:       perms.User.LastName,
			ProfilePicture: perms.User.PictureURL,
			Roles:          make([]roleResponse, 0, len(perms.Roles)),
		},
	}
	for _, role := range perms.Roles {
		resp.Profile.Roles = append(resp.Profile.Roles, roleResponse{
			ID:          role.ID,
			Name:        role.Name,
			IsPrimary:   role.IsPrimary,
			IsActive:    role.IsActive,
			Permissions: toWireGrants(role.Permissions),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *authHandlers) switchRole(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	var req struct {
		RoleID int64 `json:"roleId"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		writeDetail(w, http.StatusBadRequest, "roleId is required")
		return
	}
	if err := h.svc.SwitchRole(r.Context(), claims.UserID, req.RoleID); err != nil {
		writeError(w, h.logger, "switch_role", err)
		return
	}
	writeDetail(w, http.StatusOK, "Role switched")
}

// logout revokes the refresh token from the body. A bearer is accepted but
// not required so clients with an expired access token can still sign out.
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		writeDetail(w, http.StatusBadRequest, "refresh is required")
		return
	}
	if err := h.svc.Logout(r.Context(), req.Refresh); err != nil {
		writeError(w, h.logger, "logout", err)
		return
	}
	writeDetail(w, http.StatusOK, "Logged out")
}
