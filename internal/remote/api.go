package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
	"github.com/tidwall/gjson"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the data payload of a successful login.
type LoginResponse struct {
	AccessToken     string `json:"accessToken"`
	UserID          string `json:"userId"`
	UserRole        string `json:"role"`
	LicenseUserRole string `json:"licenseRole"`
}

// SubmissionRequest is the body of POST /submissions.
type SubmissionRequest struct {
	SubmissionID string          `json:"submissionId"`
	InspectionID string          `json:"inspectionId"`
	ContentID    string          `json:"contentId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Login exchanges credentials for an access token. It does not send a
// bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "/auth/login", nil, LoginRequest{Username: username, Password: password}, false)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	var resp LoginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding login: %w", apperrors.ErrAPIResponse, err)
	}

	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: login returned no token", apperrors.ErrAPIResponse)
	}

	return &resp, nil
}

// ListInspections returns one page of inspections.
func (c *Client) ListInspections(ctx context.Context, q models.ListQuery) ([]models.Inspection, error) {
	data, err := c.Fetch(ctx, http.MethodGet, "/inspections", pageQuery(q), nil)
	if err != nil {
		return nil, fmt.Errorf("listing inspections: %w", err)
	}

	var out []models.Inspection
	if err := decodeList(data, &out); err != nil {
		return nil, fmt.Errorf("listing inspections: %w", err)
	}

	return out, nil
}

// ListSubmissions returns one page of the user's submissions as the
// server knows them.
func (c *Client) ListSubmissions(ctx context.Context, q models.ListQuery) ([]models.Submission, error) {
	data, err := c.Fetch(ctx, http.MethodGet, "/submissions", pageQuery(q), nil)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}

	var out []models.Submission
	if err := decodeList(data, &out); err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}

	for i := range out {
		out[i].Synced = true
		if out[i].Status == "" {
			out[i].Status = models.SubmissionSynced
		}
	}

	return out, nil
}

// ListFolder returns the direct children of a folder. Children without a
// parent id are attributed to folderID.
func (c *Client) ListFolder(ctx context.Context, folderID string) ([]models.DocumentNode, error) {
	data, err := c.Fetch(ctx, http.MethodGet, "/folders/"+url.PathEscape(folderID)+"/children", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", folderID, err)
	}

	var out []models.DocumentNode
	if err := decodeList(data, &out); err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", folderID, err)
	}

	for i := range out {
		if out[i].ParentID == "" {
			out[i].ParentID = folderID
		}
	}

	return out, nil
}

// SubmitInspection pushes a queued submission. A nil error means the
// server acknowledged it.
func (c *Client) SubmitInspection(ctx context.Context, s models.Submission) error {
	payload := json.RawMessage(s.Payload)
	if !json.Valid(payload) {
		b, _ := json.Marshal(s.Payload)
		payload = b
	}

	req := SubmissionRequest{
		SubmissionID: s.SubmissionID,
		InspectionID: s.InspectionID,
		ContentID:    s.ContentID,
		Payload:      payload,
		CreatedAt:    s.CreatedAt,
	}

	if _, err := c.Fetch(ctx, http.MethodPost, "/submissions", nil, req); err != nil {
		return fmt.Errorf("submitting %s: %w", s.SubmissionID, err)
	}

	return nil
}

func pageQuery(q models.ListQuery) url.Values {
	v := url.Values{}

	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}

	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}

	if q.Search != "" {
		v.Set("search", q.Search)
	}

	if q.AssignedTo != "" {
		v.Set("assignedTo", q.AssignedTo)
	}

	return v
}

// decodeList accepts the data payload either as a bare array or as an
// object carrying the array under "items".
func decodeList(data json.RawMessage, out any) error {
	r := gjson.ParseBytes(data)

	switch {
	case r.Type == gjson.Null:
		return nil
	case r.IsArray():
	case r.IsObject() && r.Get("items").IsArray():
		data = json.RawMessage(r.Get("items").Raw)
	default:
		return fmt.Errorf("%w: expected a list", apperrors.ErrAPIResponse)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrAPIResponse, err)
	}

	return nil
}
