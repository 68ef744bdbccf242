package httpapi

import (
	"time"

	"github.com/dmitrijs2005/todokeeper/internal/server/models"
)

// accountView is the public shape of an account. It never carries the
// password hash.
type accountView struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         *string   `json:"name"`
	Picture      *string   `json:"picture"`
	GoogleLinked bool      `json:"googleLinked"`
	HasPassword  bool      `json:"hasPassword"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newAccountView(a *models.Account) accountView {
	return accountView{
		ID:           a.ID,
		Email:        a.Email,
		Name:         a.Name,
		Picture:      a.Picture,
		GoogleLinked: a.IsFederated(),
		HasPassword:  a.HasPassword(),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type todoView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Done        bool      `json:"done"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newTodoView(t *models.Todo) todoView {
	return todoView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Done:        t.Done,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type sessionResponse struct {
	OK    bool        `json:"ok"`
	Token string      `json:"token"`
	User  accountView `json:"user"`
}

type userResponse struct {
	OK   bool        `json:"ok"`
	User accountView `json:"user"`
}

type avatarResponse struct {
	OK         bool      `json:"ok"`
	UploadURL  string    `json:"uploadUrl"`
	PictureURL string    `json:"pictureUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type todoResponse struct {
	OK   bool     `json:"ok"`
	Item todoView `json:"item"`
}

type todoListResponse struct {
	OK    bool       `json:"ok"`
	Items []todoView `json:"items"`
}

type deletedResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}
