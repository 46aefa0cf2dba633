package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentProfile is a marketplace listing for a registered seller agent.
type AgentProfile struct {
	AgentID       string   `json:"agent_id"`
	AgentName     string   `json:"agent_name"`
	BaseURL       string   `json:"base_url"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	Version       int      `json:"version"`
	RegisteredAt  string   `json:"registered_at"`
	LastUpdatedAt string   `json:"last_updated_at"`
}

// RegistrationRequest is the body of POST /register. AgentID is optional;
// when empty the marketplace assigns one.
type RegistrationRequest struct {
	AgentName   string   `json:"agent_name"`
	AgentID     string   `json:"agent_id,omitempty"`
	BaseURL     string   `json:"base_url"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Validate checks required fields and formats. It returns a human-readable
// message suitable for a 422 response body.
func (r *RegistrationRequest) Validate() error {
	if strings.TrimSpace(r.AgentName) == "" {
		return fmt.Errorf("agent_name is required")
	}
	if r.AgentID != "" {
		if _, err := uuid.Parse(r.AgentID); err != nil {
			return fmt.Errorf("agent_id must be a valid UUID")
		}
	}
	if r.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if !ValidBaseURL(r.BaseURL) {
		return fmt.Errorf("base_url must be a valid HTTPS URL")
	}
	return nil
}

// ValidBaseURL accepts HTTPS URLs. Plain HTTP is tolerated for local
// development targets only: loopback hosts, single-label hostnames (docker
// service names) and *.local domains.
func ValidBaseURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	if parsed.Scheme == "https" {
		return true
	}
	if parsed.Scheme != "http" {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0":
		return true
	}
	if !strings.Contains(host, ".") {
		return true
	}
	return strings.HasSuffix(host, ".local")
}

// RegistrationResponse is returned by the marketplace on a successful
// registration.
type RegistrationResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
	Version int    `json:"version"`
}

// NewAgentProfile builds a profile from a validated registration request,
// assigning an id when the request omitted one.
func NewAgentProfile(req *RegistrationRequest, now time.Time) *AgentProfile {
	id := req.AgentID
	if id == "" {
		id = uuid.NewString()
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	ts := now.UTC().Format(time.RFC3339)
	return &AgentProfile{
		AgentID:       id,
		AgentName:     req.AgentName,
		BaseURL:       req.BaseURL,
		Description:   req.Description,
		Tags:          tags,
		Version:       1,
		RegisteredAt:  ts,
		LastUpdatedAt: ts,
	}
}
