// ABOUTME: Wire representations of core types returned by the API
// ABOUTME: Keeps JSON field names stable independently of internal structs

package api

import (
	"github.com/2389/tinytodo-gateway/internal/liststore"
	"github.com/2389/tinytodo-gateway/internal/share"
)

type listDTO struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type taskDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type shareDTO struct {
	User string `json:"user"`
	Role string `json:"role"`
}

type sharedListDTO struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Role        string `json:"role"`
}

func toListDTO(l liststore.List) listDTO {
	return listDTO{ID: l.ID, Owner: l.Owner, Name: l.Name, Description: l.Description}
}

func toTaskDTO(t liststore.Task) taskDTO {
	return taskDTO{ID: t.ID, Name: t.Name, Description: t.Description}
}

func toShareDTO(s share.Share) shareDTO {
	return shareDTO{User: s.User, Role: s.Role.String()}
}

func toSharedListDTO(sl share.SharedList) sharedListDTO {
	return sharedListDTO{
		ID:          sl.ID,
		Owner:       sl.Owner,
		Name:        sl.Name,
		Description: sl.Description,
		Role:        sl.Role.String(),
	}
}
