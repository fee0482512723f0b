package endpoints

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/llmcall"
	"github.com/jackzampolin/picturebook/internal/svcctx"
)

// CallsResponse contains recent provider calls, newest first.
type CallsResponse struct {
	Calls []llmcall.Call `json:"calls" yaml:"calls"`
	Total int            `json:"total" yaml:"total"`
}

// Table renders one row per call.
func (c CallsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(c.Calls))
	for _, call := range c.Calls {
		result := "ok"
		if !call.Success {
			result = call.Error
		}
		rows = append(rows, []string{
			call.Timestamp.Local().Format(time.TimeOnly),
			call.Kind,
			call.BookID,
			strconv.Itoa(call.Page),
			strconv.FormatInt(call.Version, 10),
			call.Provider + "/" + call.Model,
			strconv.Itoa(call.LatencyMs) + "ms",
			result,
		})
	}
	return []string{"Time", "Kind", "Book", "Page", "Version", "Model", "Latency", "Result"}, rows
}

// ListCallsEndpoint handles GET /api/calls.
type ListCallsEndpoint struct{}

func (e *ListCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/calls", e.handler
}

func (e *ListCallsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List provider calls
//	@Description	Recent summary and image calls with optional filters
//	@Tags			calls
//	@Produce		json
//	@Param			book_id	query		string	false	"Filter by book ID"
//	@Param			kind	query		string	false	"Filter by kind (summary or image)"
//	@Param			success	query		bool	false	"Filter by success status"
//	@Param			limit	query		int		false	"Max results (default 100)"
//	@Success		200		{object}	CallsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/calls [get]
func (e *ListCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	log := svcctx.CallsFrom(r.Context())
	if log == nil {
		writeError(w, http.StatusServiceUnavailable, "call log not available")
		return
	}

	q := r.URL.Query()
	filter := llmcall.QueryFilter{
		BookID: q.Get("book_id"),
		Kind:   q.Get("kind"),
		Limit:  100,
	}
	if s := q.Get("success"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success must be true or false")
			return
		}
		filter.Success = &v
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	calls := log.Recent(filter)
	writeJSON(w, http.StatusOK, CallsResponse{Calls: calls, Total: len(calls)})
}

func (e *ListCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var bookID, kind string
	var failedOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recent summary and image calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if bookID != "" {
				params.Set("book_id", bookID)
			}
			if kind != "" {
				params.Set("kind", kind)
			}
			if failedOnly {
				params.Set("success", "false")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/calls"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			client := api.NewClient(getServerURL())
			var resp CallsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "Filter by book ID")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (summary or image)")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed calls")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	return cmd
}
