package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/svcctx"
)

// CommitPageRequest is the request body for committing page text.
type CommitPageRequest struct {
	Text string `json:"text"`
}

// CommitPageResponse reports the book version after a commit.
type CommitPageResponse struct {
	BookID  string `json:"book_id"`
	Index   int    `json:"index"`
	Version int64  `json:"version"`
}

// AddPageResponse reports the appended page and the new version.
type AddPageResponse struct {
	BookID  string `json:"book_id"`
	Index   int    `json:"index"`
	Version int64  `json:"version"`
}

// RegenerateResponse acknowledges a regeneration request.
type RegenerateResponse struct {
	BookID string `json:"book_id"`
	Index  int    `json:"index"`
	Status string `json:"status"`
}

// pageIndex parses the {index} path value.
func pageIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("page index must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

// CommitPageEndpoint handles PUT /api/books/{id}/pages/{index}.
type CommitPageEndpoint struct{}

func (e *CommitPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/books/{id}/pages/{index}", e.handler
}

func (e *CommitPageEndpoint) RequiresInit() bool { return true }

func (e *CommitPageEndpoint) Group() string { return "pages" }

// handler godoc
//
//	@Summary		Commit page text
//	@Description	Write a page's text, bump the book version, clear every illustration and schedule regeneration.
//	@Description	An index equal to the page count appends a page.
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Book ID"
//	@Param			index	path		int					true	"Page index (0-based)"
//	@Param			request	body		CommitPageRequest	true	"Page text"
//	@Success		200		{object}	CommitPageResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{id}/pages/{index} [put]
func (e *CommitPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := pageIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req CommitPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	version, err := coord.CommitEdit(r.Context(), id, index, req.Text)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommitPageResponse{BookID: id, Index: index, Version: version})
}

func (e *CommitPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <book-id> <index> <text...>",
		Short: "Commit the text of a page",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid page index %q", args[1])
			}
			client := api.NewClient(getServerURL())
			req := CommitPageRequest{Text: strings.Join(args[2:], " ")}
			var resp CommitPageResponse
			if err := client.Put(cmd.Context(), "/api/books/"+args[0]+"/pages/"+args[1], req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// AddPageEndpoint handles POST /api/books/{id}/pages.
type AddPageEndpoint struct{}

func (e *AddPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/pages", e.handler
}

func (e *AddPageEndpoint) RequiresInit() bool { return true }

func (e *AddPageEndpoint) Group() string { return "pages" }

// handler godoc
//
//	@Summary	Append an empty page
//	@Tags		pages
//	@Produce	json
//	@Param		id	path		string	true	"Book ID"
//	@Success	201	{object}	AddPageResponse
//	@Failure	404	{object}	ErrorResponse
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/books/{id}/pages [post]
func (e *AddPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	index, version, err := coord.AddPage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddPageResponse{BookID: id, Index: index, Version: version})
}

func (e *AddPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <book-id>",
		Short: "Append an empty page to a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp AddPageResponse
			if err := client.Post(cmd.Context(), "/api/books/"+args[0]+"/pages", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RegeneratePageEndpoint handles POST /api/books/{id}/pages/{index}/regenerate.
type RegeneratePageEndpoint struct{}

func (e *RegeneratePageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/pages/{index}/regenerate", e.handler
}

func (e *RegeneratePageEndpoint) RequiresInit() bool { return true }

func (e *RegeneratePageEndpoint) Group() string { return "pages" }

// handler godoc
//
//	@Summary		Regenerate a page illustration
//	@Description	Clear the page's illustration and schedule an immediate job at the current version
//	@Tags			pages
//	@Produce		json
//	@Param			id		path		string	true	"Book ID"
//	@Param			index	path		int		true	"Page index (0-based)"
//	@Success		202		{object}	RegenerateResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books/{id}/pages/{index}/regenerate [post]
func (e *RegeneratePageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := pageIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	if err := coord.RegenerateImageForPage(r.Context(), id, index); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RegenerateResponse{BookID: id, Index: index, Status: "scheduled"})
}

func (e *RegeneratePageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <book-id> <index>",
		Short: "Regenerate the illustration of one page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RegenerateResponse
			path := "/api/books/" + args[0] + "/pages/" + args[1] + "/regenerate"
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ImageEndpoint handles GET /images/{name}, serving generated illustrations
// stored in the home images directory.
type ImageEndpoint struct{}

func (e *ImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/images/{name}", e.handler
}

func (e *ImageEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Get a generated image
//	@Tags		pages
//	@Produce	image/png
//	@Param		name	path		string	true	"Image file name"
//	@Success	200		{file}		binary
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/images/{name} [get]
func (e *ImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}

	homeDir := svcctx.HomeFrom(r.Context())
	if homeDir == nil {
		writeError(w, http.StatusServiceUnavailable, "home directory not initialized")
		return
	}

	file, err := os.Open(filepath.Join(homeDir.ImagesPath(), name))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "image not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000")
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (e *ImageEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}
