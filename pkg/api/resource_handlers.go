package api

import (
	"io"
	"net/http"

	"github.com/unclesp1d3r/cipherswarm/pkg/log"
)

// uploadResource stores one blob (word list, rule list or mask list)
// from a multipart form under the field name "file".
func (s *Server) uploadResource(w http.ResponseWriter, r *http.Request) int {
	file, header, err := r.FormFile("file")
	if err != nil {
		return s.writeError(w, http.StatusBadRequest, "malformed_request")
	}
	defer file.Close()

	resource, err := s.objects.Put(header.Filename, file)
	if err != nil {
		return s.fail(w, "resources.upload", err, log.StateChange{Event: "resource_upload"})
	}
	return s.writeJSON(w, http.StatusCreated, resource)
}

func (s *Server) downloadResource(w http.ResponseWriter, r *http.Request) int {
	id := r.PathValue("id")
	resource, err := s.objects.Get(id)
	if err != nil {
		return s.writeError(w, http.StatusNotFound, "not_found")
	}
	rc, err := s.objects.Open(id)
	if err != nil {
		return s.fail(w, "resources.download", err, log.StateChange{Event: "resource_download"})
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+resource.FileName+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
	return http.StatusOK
}
