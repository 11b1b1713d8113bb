package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Student is one entry from the eligible-students roster. Eligibility
// (enrollment status and so on) is decided by the roster service; this
// client only transports the result.
type Student struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Grade          string `json:"grade"`
	ContactID      string `json:"contact_id"`
	ContactName    string `json:"contact_name"`
	ContactAltName string `json:"contact_alt_name,omitempty"`
}

// Client calls the student-information service for roster data.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, calls return a small canned roster
// instead of hitting the network; used in dev and tests.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListEligibleStudents returns every student eligible for today's queue.
func (c *Client) ListEligibleStudents(ctx context.Context) ([]Student, error) {
	if c.Skip {
		return cannedRoster(), nil
	}
	return c.fetch(ctx, c.BaseURL+"/v1/students/eligible")
}

// ListByGrade returns the eligible students of a single grade.
func (c *Client) ListByGrade(ctx context.Context, grade string) ([]Student, error) {
	if c.Skip {
		var out []Student
		for _, s := range cannedRoster() {
			if s.Grade == grade {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return c.fetch(ctx, c.BaseURL+"/v1/students/eligible?grade="+grade)
}

func (c *Client) fetch(ctx context.Context, url string) ([]Student, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster service returned %d", resp.StatusCode)
	}
	var payload struct {
		Students []Student `json:"students"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("roster decode failed: %w", err)
	}
	return payload.Students, nil
}

func cannedRoster() []Student {
	return []Student{
		{ID: "S1001", Name: "Avery Adams", Grade: "3", ContactID: "P2001", ContactName: "Jordan Adams"},
		{ID: "S1002", Name: "Blake Burton", Grade: "3", ContactID: "P2002", ContactName: "Casey Burton"},
		{ID: "S1003", Name: "Cameron Cole", Grade: "4", ContactID: "P2003", ContactName: "Drew Cole", ContactAltName: "Evan Cole"},
		{ID: "S1004", Name: "Dana Diaz", Grade: "4", ContactID: "P2003", ContactName: "Drew Cole"},
		{ID: "S1005", Name: "Ellis Evans", Grade: "5", ContactID: "P2005", ContactName: "Frankie Evans"},
	}
}
