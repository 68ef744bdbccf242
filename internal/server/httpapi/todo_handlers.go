package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/server/services"
)

type createTodoRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

// updateTodoRequest keeps description raw so that an explicit null (clear)
// can be told apart from an absent field (keep).
type updateTodoRequest struct {
	Title       *string         `json:"title"`
	Description json.RawMessage `json:"description"`
	Done        *bool           `json:"done"`
}

func (req updateTodoRequest) toUpdate() (services.TodoUpdate, error) {
	in := services.TodoUpdate{Title: req.Title, Done: req.Done}
	if len(req.Description) == 0 {
		return in, nil
	}
	in.DescriptionSet = true
	if string(req.Description) == "null" {
		return in, nil
	}
	var d string
	if err := json.Unmarshal(req.Description, &d); err != nil {
		return in, common.Validation("description must be a string")
	}
	in.Description = &d
	return in, nil
}

func (h *handler) listTodos(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	items, err := h.todos.List(r.Context(), id.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]todoView, 0, len(items))
	for _, t := range items {
		views = append(views, newTodoView(t))
	}
	writeJSON(w, http.StatusOK, todoListResponse{OK: true, Items: views})
}

func (h *handler) createTodo(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req createTodoRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	todo, err := h.todos.Create(r.Context(), id.AccountID, req.Title, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, todoResponse{OK: true, Item: newTodoView(todo)})
}

func (h *handler) updateTodo(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req updateTodoRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.toUpdate()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	todo, err := h.todos.Update(r.Context(), id.AccountID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, todoResponse{OK: true, Item: newTodoView(todo)})
}

func (h *handler) deleteTodo(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	if err := h.todos.Delete(r.Context(), id.AccountID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handler) deleteAllTodos(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	n, err := h.todos.DeleteAll(r.Context(), id.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{OK: true, Deleted: n})
}
