package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/book"
	"github.com/jackzampolin/picturebook/internal/svcctx"
)

// CreateBookRequest is the request body for creating a book.
type CreateBookRequest struct {
	Title string `json:"title"`
}

// BookList is the response for listing books.
type BookList struct {
	Books []book.Summary `json:"books" yaml:"books"`
	Total int            `json:"total" yaml:"total"`
}

// Table renders one row per book.
func (l BookList) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(l.Books))
	for _, b := range l.Books {
		rows = append(rows, []string{
			b.ID,
			b.Title,
			strconv.FormatInt(b.Version, 10),
			strconv.Itoa(b.PageCount),
			b.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return []string{"ID", "Title", "Version", "Pages", "Created"}, rows
}

// BookView wraps a book snapshot for CLI rendering.
type BookView struct {
	book.Book `yaml:",inline"`
}

// Table renders one row per page, numbered "Page N of M".
func (v BookView) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(v.Pages))
	for _, p := range v.Pages {
		image, prompt := "-", ""
		if p.Illustration != nil {
			image, prompt = p.Illustration.ImageRef, p.Illustration.Prompt
		}
		rows = append(rows, []string{
			fmt.Sprintf("Page %d of %d", p.Index+1, len(v.Pages)),
			strings.TrimSpace(p.Text),
			image,
			prompt,
		})
	}
	title := fmt.Sprintf("%s (v%d)", v.Title, v.Version)
	return []string{title, "Text", "Illustration", "Scene"}, rows
}

// CreateBookEndpoint handles POST /api/books.
type CreateBookEndpoint struct{}

func (e *CreateBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books", e.handler
}

func (e *CreateBookEndpoint) RequiresInit() bool { return true }

func (e *CreateBookEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Create a book
//	@Description	Create a book with an empty first page
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateBookRequest	true	"Book title"
//	@Success		201		{object}	book.Book
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/books [post]
func (e *CreateBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	b, err := coord.CreateBook(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (e *CreateBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new book",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var b book.Book
			req := CreateBookRequest{Title: strings.Join(args, " ")}
			if err := client.Post(cmd.Context(), "/api/books", req, &b); err != nil {
				return err
			}
			return api.Output(BookView{Book: b})
		},
	}
}

// ListBooksEndpoint handles GET /api/books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books", e.handler
}

func (e *ListBooksEndpoint) RequiresInit() bool { return true }

func (e *ListBooksEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary	List books
//	@Tags		books
//	@Produce	json
//	@Success	200	{object}	BookList
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/books [get]
func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	books, err := coord.ListBooks(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BookList{Books: books, Total: len(books)})
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BookList
			if err := client.Get(cmd.Context(), "/api/books", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetBookEndpoint handles GET /api/books/{id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

func (e *GetBookEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get book by ID
//	@Description	Get a consistent snapshot of a book with its pages and illustrations
//	@Tags			books
//	@Produce		json
//	@Param			id	path		string	true	"Book ID"
//	@Success		200	{object}	book.Book
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	b, err := coord.ReadBook(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a book by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var b book.Book
			if err := client.Get(cmd.Context(), "/api/books/"+args[0], &b); err != nil {
				return err
			}
			return api.Output(BookView{Book: b})
		},
	}
}
