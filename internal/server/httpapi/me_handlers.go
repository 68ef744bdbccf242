package httpapi

import (
	"net/http"
)

type updateMeRequest struct {
	Name    *string `json:"name"`
	Picture *string `json:"picture"`
}

type changeEmailRequest struct {
	NewEmail string `json:"newEmail"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type deleteMeRequest struct {
	Password string `json:"password"`
}

func (h *handler) getMe(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	account, err := h.profile.GetProfile(r.Context(), id.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{OK: true, User: newAccountView(account)})
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.profile.UpdateProfile(r.Context(), id.AccountID, req.Name, req.Picture)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{OK: true, User: newAccountView(account)})
}

func (h *handler) changeEmail(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req changeEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sess, err := h.profile.ChangeEmail(r.Context(), id.AccountID, req.NewEmail, req.Password)
	h.writeSession(w, r, sess, err)
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.profile.ChangePassword(r.Context(), id.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handler) deleteMe(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req deleteMeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.profile.DeleteAccount(r.Context(), id.AccountID, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handler) avatarUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	up, err := h.profile.AvatarUploadURL(r.Context(), id.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avatarResponse{OK: true, UploadURL: up.UploadURL, PictureURL: up.PictureURL, ExpiresAt: up.ExpiresAt})
}
