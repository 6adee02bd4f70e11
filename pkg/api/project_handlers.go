package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/storage"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) int {
	var req createProjectRequest
	if err := decode(r, &req); err != nil || req.Name == "" {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	project := &types.Project{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now(),
	}
	err := s.store.Update(func(tx storage.Txn) error {
		return tx.CreateProject(project)
	})
	if err != nil {
		return s.fail(w, "projects.create", err, log.StateChange{Event: "project_create"})
	}
	return s.writeJSON(w, http.StatusCreated, project)
}

type createHashListRequest struct {
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	HashType  types.HashType `json:"hash_type"`
	Hashes    []string       `json:"hashes"`
}

// createHashList ingests a hash list and its items in one transaction.
// Duplicate hash values within the submission collapse to one item.
func (s *Server) createHashList(w http.ResponseWriter, r *http.Request) int {
	var req createHashListRequest
	if err := decode(r, &req); err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	now := time.Now()
	list := &types.HashList{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		HashType:  req.HashType,
		Processed: true,
		CreatedAt: now,
	}
	err := s.store.Update(func(tx storage.Txn) error {
		if _, err := tx.GetProject(req.ProjectID); err != nil {
			return err
		}
		if err := tx.CreateHashList(list); err != nil {
			return err
		}
		seen := make(map[string]bool, len(req.Hashes))
		position := 0
		for _, value := range req.Hashes {
			if value == "" || seen[value] {
				continue
			}
			seen[value] = true
			item := &types.HashItem{
				ID:         uuid.New().String(),
				HashListID: list.ID,
				HashValue:  value,
				Position:   position,
			}
			if err := tx.PutHashItem(item); err != nil {
				return err
			}
			position++
		}
		return nil
	})
	if err != nil {
		return s.fail(w, "hash_lists.create", err, log.StateChange{Event: "hash_list_create"})
	}
	return s.writeJSON(w, http.StatusCreated, list)
}
