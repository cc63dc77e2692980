package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"budget/internal/core"
	"budget/internal/services"
)

// UploadField is the multipart field carrying the export file.
const UploadField = "file"

var errEmptyUpload = errors.New("upload is empty")

// requestError is a client mistake in the request itself, reported as 400.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &requestError{msg: msg, err: err}
}

// readUpload returns the uploaded file from a multipart field or, for any other
// content type, the raw body. At most maxBytes are read.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var (
		data []byte
		err  error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		data, err = readMultipartFile(r)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, badRequest("no file", errEmptyUpload)
	}
	return data, nil
}

func readMultipartFile(r *http.Request) ([]byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("invalid multipart body", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, badRequest(fmt.Sprintf("missing %q field", UploadField), nil)
		}
		if err != nil {
			return nil, maybeTooLarge(err, "invalid multipart body")
		}
		if part.FormName() != UploadField {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, maybeTooLarge(err, "read upload")
		}
		return data, nil
	}
}

func maybeTooLarge(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return badRequest(msg, err)
}

type categorizeBody struct {
	Months json.RawMessage `json:"months"`
	Policy string          `json:"policy"`
}

// parseCategorizeRequest decodes {"months": [...] | "all", "policy": "replace"|"merge"}.
// A missing policy means merge.
func parseCategorizeRequest(body io.Reader) (services.ImportRequest, error) {
	var b categorizeBody
	if err := json.NewDecoder(body).Decode(&b); err != nil {
		return services.ImportRequest{}, badRequest("invalid JSON body", err)
	}

	req := services.ImportRequest{Policy: core.PolicyMerge}
	if strings.TrimSpace(b.Policy) != "" {
		p, err := core.ParseImportPolicy(b.Policy)
		if err != nil {
			return services.ImportRequest{}, err
		}
		req.Policy = p
	}

	raw := bytes.TrimSpace(b.Months)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return services.ImportRequest{}, badRequest("months is required", nil)
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return services.ImportRequest{}, badRequest("invalid months", err)
		}
		if strings.EqualFold(strings.TrimSpace(s), "all") {
			req.All = true
			return req, nil
		}
		key, err := core.ParseMonthKey(s)
		if err != nil {
			return services.ImportRequest{}, err
		}
		req.Months = []core.MonthKey{key}
	default:
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return services.ImportRequest{}, badRequest(`months must be a list of "YYYY-MM" or "all"`, err)
		}
		if len(list) == 0 {
			return services.ImportRequest{}, services.ErrNoMonths
		}
		for _, s := range list {
			key, err := core.ParseMonthKey(s)
			if err != nil {
				return services.ImportRequest{}, err
			}
			req.Months = append(req.Months, key)
		}
	}
	return req, nil
}

type correctionBody struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

func parseCorrection(body io.Reader) (correctionBody, error) {
	var c correctionBody
	if err := json.NewDecoder(body).Decode(&c); err != nil {
		return correctionBody{}, badRequest("invalid JSON body", err)
	}
	if strings.TrimSpace(c.Category) == "" {
		return correctionBody{}, badRequest("category is required", nil)
	}
	return c, nil
}

func monthFromPath(r *http.Request) (core.MonthKey, error) {
	return core.ParseMonthKey(r.PathValue("month"))
}

func idFromPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(fmt.Sprintf("invalid transaction id %q", r.PathValue("id")), nil)
	}
	return id, nil
}

// isTrue accepts the usual spellings of a boolean query flag.
func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
